// cmd/coldkeep is a thin CLI wrapper over the repository engine:
// argument- and env-driven, a single zap.NewProduction logger created once in
// main, matching the teacher's cmd/vaultaire/main.go shape.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	coldkeep "github.com/coldkeep/coldkeep"
	"github.com/coldkeep/coldkeep/internal/backend"
	"github.com/coldkeep/coldkeep/internal/lock"
	"github.com/coldkeep/coldkeep/internal/repoconfig"
	"github.com/coldkeep/coldkeep/internal/repository"
)

var table = lock.NewTable()

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	dir := os.Getenv("COLDKEEP_DIR")
	if dir == "" {
		dir = "."
	}
	back, err := backend.New("file", map[string]string{"dir": dir})
	if err != nil {
		logger.Fatal("open backend", zap.Error(err))
	}

	var cmdErr error
	switch os.Args[1] {
	case "create":
		cmdErr = cmdCreate(back, logger)
	case "put":
		cmdErr = cmdPut(back, logger, os.Args[2:])
	case "get":
		cmdErr = cmdGet(back, logger, os.Args[2:])
	case "rm":
		cmdErr = cmdRm(back, logger, os.Args[2:])
	case "stat":
		cmdErr = cmdStat(back, logger)
	case "verify":
		cmdErr = cmdVerify(back, logger)
	case "passwd":
		cmdErr = cmdPasswd(back, logger)
	default:
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		logger.Error("command failed", zap.Error(cmdErr))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: coldkeep <create|put|get|rm|stat|verify|passwd> [args]")
}

func presetFromEnv() (repoconfig.CreateOptions, error) {
	return repoconfig.GetPreset(os.Getenv("COLDKEEP_PRESET"))
}

func readPassword(prompt string) ([]byte, error) {
	if pw := os.Getenv("COLDKEEP_PASSWORD"); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func cmdCreate(back backend.Backend, logger *zap.Logger) error {
	opts, err := presetFromEnv()
	if err != nil {
		return err
	}
	var password []byte
	if opts.Encryption != "" && opts.Encryption != "none" {
		password, err = readPassword("password: ")
		if err != nil {
			return err
		}
	}
	repo, err := repository.Create[string](back, table, opts, password, logger)
	if err != nil {
		return err
	}
	defer repo.Close()
	info := repo.Info()
	fmt.Printf("created repository %s\n", info.RepoID)
	return nil
}

func openRepo(back backend.Backend, logger *zap.Logger) (*repository.Repository[string], error) {
	info, err := repository.Peek(back)
	if err != nil {
		return nil, err
	}
	var password []byte
	if info.Encryption != "" && info.Encryption != "none" {
		password, err = readPassword("password: ")
		if err != nil {
			return nil, err
		}
	}
	return repository.Open[string](back, table, lock.Abort, password, logger)
}

func cmdPut(back backend.Backend, logger *zap.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: put <key> <file>")
	}
	repo, err := openRepo(back, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	f, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("read input file: %w", err)
	}

	handle := repo.Insert(args[0])
	if _, err := handle.Write(data); err != nil {
		return err
	}
	if err := handle.Flush(); err != nil {
		return err
	}
	if err := repo.Commit(); err != nil {
		return err
	}
	fmt.Printf("wrote %d bytes to %q\n", len(data), args[0])
	return nil
}

func cmdGet(back backend.Backend, logger *zap.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <key> <file>")
	}
	repo, err := openRepo(back, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	handle, ok := repo.Get(args[0])
	if !ok {
		return coldkeep.E("coldkeep.get", coldkeep.KindNotFound, fmt.Errorf("key %q not found", args[0]))
	}
	size, err := handle.Size()
	if err != nil {
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer out.Close()

	buf := make([]byte, 1<<20)
	var read uint64
	for read < size {
		n, err := handle.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write output file: %w", werr)
			}
			read += uint64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Printf("read %d bytes from %q\n", read, args[0])
	return nil
}

func cmdRm(back backend.Backend, logger *zap.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm <key>")
	}
	repo, err := openRepo(back, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	if !repo.Remove(args[0]) {
		return coldkeep.E("coldkeep.rm", coldkeep.KindNotFound, fmt.Errorf("key %q not found", args[0]))
	}
	if err := repo.Commit(); err != nil {
		return err
	}
	fmt.Printf("removed %q\n", args[0])
	return nil
}

func cmdStat(back backend.Backend, logger *zap.Logger) error {
	repo, err := openRepo(back, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	stats := repo.Stats()
	fmt.Printf("apparent_size=%d actual_size=%d\n", stats.ApparentSize, stats.ActualSize)
	return nil
}

func cmdVerify(back backend.Backend, logger *zap.Logger) error {
	repo, err := openRepo(back, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	corrupt, err := repo.Verify()
	if err != nil {
		return err
	}
	if len(corrupt) == 0 {
		fmt.Println("ok")
		return nil
	}
	for key := range corrupt {
		fmt.Printf("corrupt: %s\n", key)
	}
	return fmt.Errorf("%d corrupt object(s)", len(corrupt))
}

func cmdPasswd(back backend.Backend, logger *zap.Logger) error {
	repo, err := openRepo(back, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	newPassword, err := readPassword("new password: ")
	if err != nil {
		return err
	}
	if err := repo.ChangePassword(newPassword); err != nil {
		return err
	}
	if err := repo.Commit(); err != nil {
		return err
	}
	fmt.Println("password changed")
	return nil
}
