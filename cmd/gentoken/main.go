// Command gentoken prints a signed session credential.
//
//	gentoken <sessionName> [--role N] [--expires H] [--quiet] [--copy-to-clipboard]
//
// SDK_KEY and SDK_SECRET are read from the environment or a .env file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"overlaycast/internal/core/services"
	"overlaycast/pkg/logger"
	"overlaycast/pkg/validation"

	"github.com/atotto/clipboard"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

var writeClipboard = clipboard.WriteAll

type options struct {
	role    string
	expires string
	quiet   bool
	copy    bool
}

type cli struct {
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string
}

func main() {
	_ = godotenv.Load()
	c := &cli{stdout: os.Stdout, stderr: os.Stderr, getenv: os.Getenv}
	os.Exit(c.run(os.Args[1:]))
}

func (c *cli) run(args []string) int {
	fs := flag.NewFlagSet("gentoken", flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	var opts options
	fs.StringVar(&opts.role, "role", "1", "Role type (0 = host, 1 = participant)")
	fs.StringVar(&opts.role, "r", "1", "shorthand for --role")
	fs.StringVar(&opts.expires, "expires", "2", "Token expiration time in hours")
	fs.StringVar(&opts.expires, "e", "2", "shorthand for --expires")
	fs.BoolVar(&opts.quiet, "quiet", false, "Output only the token, no color or extra info")
	fs.BoolVar(&opts.quiet, "q", false, "shorthand for --quiet")
	fs.BoolVar(&opts.copy, "copy-to-clipboard", false, "Copy the token to clipboard")
	fs.BoolVar(&opts.copy, "c", false, "shorthand for --copy-to-clipboard")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: gentoken <sessionName> [flags]")
		fs.PrintDefaults()
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if len(positional) != 1 {
		fs.Usage()
		return 1
	}
	sessionName := positional[0]

	sdkKey, sdkSecret := c.getenv("SDK_KEY"), c.getenv("SDK_SECRET")
	if sdkKey == "" || sdkSecret == "" {
		c.fail("SDK_KEY and SDK_SECRET must be set in your environment or .env file")
		fmt.Fprintln(c.stderr, color.New(color.Faint).Sprint("   Please ensure your .env file contains both variables."))
		return 1
	}
	if strings.TrimSpace(sdkKey) == "" || strings.TrimSpace(sdkSecret) == "" {
		c.fail("SDK_KEY and SDK_SECRET cannot be empty")
		return 1
	}

	if strings.TrimSpace(sessionName) == "" {
		c.fail("Session name cannot be empty")
		return 1
	}
	if err := validation.ValidateSessionName(sessionName); err != nil {
		c.fail(fmt.Sprintf("Session name is too long (max %d characters)", validation.MaxSessionNameLength))
		return 1
	}

	role, err := strconv.Atoi(opts.role)
	if err != nil {
		c.fail(fmt.Sprintf("Invalid role value: %q. Must be a number.", opts.role))
		return 1
	}
	high, err := validation.ValidateRole(role)
	if err != nil {
		c.fail(fmt.Sprintf("Invalid role: %d. Role must be a non-negative integer.", role))
		return 1
	}
	if high {
		fmt.Fprintln(c.stderr, color.New(color.FgYellow, color.Bold).Sprint("⚠ Warning:")+
			fmt.Sprintf(" Role %d is unusually high. Common values are 0 (host) or 1 (participant).", role))
	}

	hours, err := strconv.ParseFloat(opts.expires, 64)
	if err != nil || validation.ValidateExpiryHours(hours) != nil {
		c.fail(fmt.Sprintf("Invalid expiration time: %q. Must be a positive number.", opts.expires))
		return 1
	}

	issuer := services.NewCredentialService(sdkKey, sdkSecret, logger.New("error").Sugar())
	token, _, err := issuer.Issue(sessionName, role, time.Duration(hours*float64(time.Hour)))
	if err != nil {
		fmt.Fprintln(c.stderr, color.New(color.FgRed, color.Bold).Sprint("✗ Error generating token:")+" "+err.Error())
		return 1
	}

	if opts.quiet {
		fmt.Fprintln(c.stdout, token)
	} else {
		dim := color.New(color.Faint).SprintFunc()
		white := color.New(color.FgWhite).SprintFunc()
		fmt.Fprintln(c.stdout, dim("Session:"), white(sessionName))
		fmt.Fprintln(c.stdout, dim("Role:"), white(role))
		fmt.Fprintln(c.stdout, dim("Expires in:"), white(strconv.FormatFloat(hours, 'f', -1, 64)+" hour(s)"))
		fmt.Fprintln(c.stdout, dim("\nToken:"))
		fmt.Fprintln(c.stdout, color.New(color.FgCyan).Sprint(token))
	}

	if opts.copy {
		if err := writeClipboard(token); err != nil {
			fmt.Fprintln(c.stderr, "Failed to copy token to clipboard:", err)
			return 1
		}
	}
	return 0
}

func (c *cli) fail(message string) {
	fmt.Fprintln(c.stderr, color.New(color.FgRed, color.Bold).Sprint("✗ Error:")+" "+message)
}

// parseInterspersed allows flags before and after positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}
