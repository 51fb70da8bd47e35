package secret

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

const keychainService = "appbuilder-backends"

// runFunc runs a command with stdin and returns its stdout.
type runFunc func(stdin []byte, name string, args ...string) ([]byte, error)

func execRun(stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return out, err
}

// keychainCLI describes the OS credential tool. notFound reports whether a
// lookup failed only because the item does not exist.
type keychainCLI struct {
	set      func(key string, value []byte) (stdin []byte, name string, args []string)
	get      func(key string) (name string, args []string)
	del      func(key string) (name string, args []string)
	notFound func(err error) bool
}

func exitCode(err error, codes ...int) bool {
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return false
	}
	for _, c := range codes {
		if ee.ExitCode() == c {
			return true
		}
	}
	return false
}

// macOS Keychain through `security`. Exit 44 is errSecItemNotFound.
var securityCLI = keychainCLI{
	set: func(key string, value []byte) ([]byte, string, []string) {
		return nil, "security", []string{"add-generic-password", "-U", "-a", key, "-s", keychainService, "-w", string(value)}
	},
	get: func(key string) (string, []string) {
		return "security", []string{"find-generic-password", "-a", key, "-s", keychainService, "-w"}
	},
	del: func(key string) (string, []string) {
		return "security", []string{"delete-generic-password", "-a", key, "-s", keychainService}
	},
	notFound: func(err error) bool { return exitCode(err, 44) },
}

// Secret Service (GNOME Keyring, KWallet) through `secret-tool`. The value
// goes through stdin so it never shows up in the process list.
var secretToolCLI = keychainCLI{
	set: func(key string, value []byte) ([]byte, string, []string) {
		return value, "secret-tool", []string{"store", "--label", keychainService + " " + key, "service", keychainService, "account", key}
	},
	get: func(key string) (string, []string) {
		return "secret-tool", []string{"lookup", "service", keychainService, "account", key}
	},
	del: func(key string) (string, []string) {
		return "secret-tool", []string{"clear", "service", keychainService, "account", key}
	},
	notFound: func(err error) bool { return exitCode(err, 1) },
}

// KeychainStore keeps secrets in the OS credential store: the macOS
// Keychain, or the Secret Service elsewhere.
type KeychainStore struct {
	cli keychainCLI
	run runFunc
}

// NewKeychainStore picks the credential tool of the running OS.
func NewKeychainStore() *KeychainStore {
	cli := secretToolCLI
	if runtime.GOOS == "darwin" {
		cli = securityCLI
	}
	return &KeychainStore{cli: cli, run: execRun}
}

// Set stores value under key, replacing any previous value.
func (k *KeychainStore) Set(key string, value []byte) error {
	stdin, name, args := k.cli.set(key, value)
	if _, err := k.run(stdin, name, args...); err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	return nil
}

// Get returns nil, nil when key has no entry.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	name, args := k.cli.get(key)
	out, err := k.run(nil, name, args...)
	if err != nil {
		if k.cli.notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get %s: %w", key, err)
	}
	return bytes.TrimRight(out, "\r\n"), nil
}

// Delete removes key. A missing entry is not an error.
func (k *KeychainStore) Delete(key string) error {
	name, args := k.cli.del(key)
	if _, err := k.run(nil, name, args...); err != nil && !k.cli.notFound(err) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}
