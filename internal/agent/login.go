package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"klepsydra/internal/auth"
)

// LoginOptions feed the interactive device registration. Missing fields
// are prompted for.
type LoginOptions struct {
	ConfigPath string
	ServerURL  string
	Username   string
	ChildID    string

	// In and Out carry the prompts. They default to stdin and stderr.
	In  io.Reader
	Out io.Writer
}

// RunLogin signs a user in, registers this device for a child and
// stores the device token and config the enforcement loop starts from.
// A child account registers its own child; a parent names one.
func RunLogin(ctx context.Context, opts LoginOptions, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	in := bufio.NewReader(opts.In)

	configPath, err := ResolveConfigPath(opts.ConfigPath)
	if err != nil {
		return err
	}

	// An existing config seeds the defaults; a first login starts from
	// scratch.
	cfg, err := read(configPath)
	if err != nil {
		cfg = DefaultConfig()
	}

	serverURL := NormalizeServerURL(opts.ServerURL)
	if serverURL == "" {
		serverURL = cfg.ServerURL
	}
	if serverURL == "" {
		raw, err := prompt(in, opts.Out, "Server URL (e.g. 127.0.0.1:5151): ")
		if err != nil {
			return err
		}
		serverURL = NormalizeServerURL(raw)
	}
	if serverURL == "" {
		return ErrMissingServerURL
	}

	username := opts.Username
	if username == "" {
		if username, err = prompt(in, opts.Out, "Username: "); err != nil {
			return err
		}
	}
	password, err := readPassword(in, opts.In, opts.Out)
	if err != nil {
		return err
	}

	client := NewHTTPServerClient(serverURL, logger)
	loginToken, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	claims, err := decodeClaims(loginToken)
	if err != nil {
		return err
	}

	childID := opts.ChildID
	switch claims.Role {
	case auth.RoleChild:
		// A child account is bound to its own child; nothing to choose.
		if claims.ChildID == "" {
			return errors.New("child token carries no child_id")
		}
		childID = claims.ChildID
	case auth.RoleParent:
		if childID == "" {
			if childID, err = prompt(in, opts.Out, "Child ID to register: "); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported role %q in token", claims.Role)
	}
	if childID == "" {
		return ErrMissingChildID
	}

	deviceID := cfg.DeviceID
	if deviceID == "" {
		platform := NewPlatform(cfg, logger)
		if deviceID, err = platform.DeviceID(); err != nil {
			return err
		}
	}

	reg, err := client.Register(ctx, loginToken, childID, deviceID)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		if stateDir, err = DefaultStateDir(); err != nil {
			return err
		}
	}
	tokens := NewTokenStore(stateDir)
	if err := tokens.Save(reg.Token); err != nil {
		return err
	}

	cfg.ServerURL = serverURL
	cfg.ChildID = reg.ChildID
	cfg.DeviceID = reg.DeviceID
	if err := cfg.Save(configPath); err != nil {
		return err
	}

	logger.Info("Device registered",
		"child_id", reg.ChildID,
		"device_id", reg.DeviceID,
	)
	fmt.Fprintf(opts.Out, "Device %s registered for child %s.\nToken stored in %s, config written to %s.\n",
		reg.DeviceID, reg.ChildID, tokens.Path(), configPath)
	return nil
}

func prompt(in *bufio.Reader, out io.Writer, msg string) (string, error) {
	fmt.Fprint(out, msg)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo when the input is a terminal and
// falls back to a plain line otherwise, so scripted logins keep
// working.
func readPassword(in *bufio.Reader, rawIn io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	if f, ok := rawIn.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
