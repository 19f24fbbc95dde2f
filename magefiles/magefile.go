//go:build mage

// Package main provides build targets for the keepsake project using Mage.
//
// Usage:
//
//	mage build         Compile keepsake binary to bin/
//	mage test          Run all tests
//	mage testServices  Run the store and cache tests against live Postgres and Redis
//	mage lint          Run golangci-lint
//	mage clean         Remove build artifacts
//	mage install       Install keepsake to GOPATH/bin
//	mage stats         Print Go lines of code as a JSON record
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binLint    = "golangci-lint"
	binaryName = "keepsake"
	binaryDir  = "bin"
	cmdDir     = "./cmd/keepsake"
)

// Environment variables that enable the service-backed tests.
const (
	envPostgresDSN = "KEEPSAKE_TEST_POSTGRES_DSN"
	envRedisAddr   = "KEEPSAKE_TEST_REDIS_ADDR"
)

// Build compiles the keepsake binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Test runs all tests. Postgres and Redis tests skip unless their
// environment variables are set.
func Test() error {
	return sh.RunV(binGo, "test", "./...")
}

// TestServices runs the gorm store and cache tests with the race detector.
// It requires KEEPSAKE_TEST_POSTGRES_DSN and KEEPSAKE_TEST_REDIS_ADDR.
func TestServices() error {
	for _, name := range []string{envPostgresDSN, envRedisAddr} {
		if os.Getenv(name) == "" {
			return fmt.Errorf("%s is not set", name)
		}
	}
	return sh.RunV(binGo, "test", "-race", "-count=1", "./internal/gormstore/...", "./internal/cache/...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV(binLint, "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}

// Stats prints Go lines of code, production and test, as one JSON line.
func Stats() error {
	var prodLines, testLines int

	err := filepath.Walk(".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			switch {
			case path == "vendor", path == ".git", path == binaryDir, path == "magefiles":
				return filepath.SkipDir
			case strings.HasPrefix(info.Name(), "_"):
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") {
			return nil
		}
		count, countErr := countLines(path)
		if countErr != nil {
			return nil
		}
		if strings.HasSuffix(path, "_test.go") {
			testLines += count
		} else {
			prodLines += count
		}
		return nil
	})
	if err != nil {
		return err
	}

	line, err := json.Marshal(map[string]int{
		"go_loc_prod": prodLines,
		"go_loc_test": testLines,
		"go_loc":      prodLines + testLines,
	})
	if err != nil {
		return err
	}
	fmt.Println(string(line))
	return nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
