// Package targetform prompts for a new mailbox to synchronize.
package targetform

import (
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/crm-mailsync/internal/model"
)

// Bindings holds form field values on the heap so that huh's Value()
// pointers stay valid.
type Bindings struct {
	Address  string
	Username string
	Secret   string
	Host     string
	Port     string
	Security string
	Folder   string
	Interval string
}

// NewBindings returns bindings with the usual IMAPS defaults.
func NewBindings() *Bindings {
	return &Bindings{
		Port:     "993",
		Security: string(model.SecurityTLS),
		Folder:   "INBOX",
		Interval: strconv.Itoa(model.DefaultSyncIntervalMin),
	}
}

// Form builds the huh form over b.
func Form(b *Bindings) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Mailbox address").
				Placeholder("sales@example.com").
				Value(&b.Address).
				Validate(validateAddress),
			huh.NewInput().
				Title("Login").
				Placeholder("Defaults to the address").
				Value(&b.Username),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&b.Secret).
				Validate(validateRequired("Password")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP host").
				Placeholder("imap.example.com").
				Value(&b.Host).
				Validate(validateRequired("Host")),
			huh.NewInput().
				Title("Port").
				Value(&b.Port).
				Validate(validatePort),
			huh.NewSelect[string]().
				Title("Security").
				Options(
					huh.NewOption("TLS", string(model.SecurityTLS)),
					huh.NewOption("STARTTLS", string(model.SecurityStartTLS)),
					huh.NewOption("None (testing only)", string(model.SecurityNone)),
				).
				Value(&b.Security),
			huh.NewInput().
				Title("Folder").
				Value(&b.Folder),
			huh.NewInput().
				Title("Sync interval (minutes)").
				Value(&b.Interval).
				Validate(validateInterval),
		),
	).WithWidth(72)
}

// Prompt runs the form in the terminal and returns the filled bindings.
// huh.ErrUserAborted is returned when the user cancels.
func Prompt() (*Bindings, error) {
	b := NewBindings()
	if err := Form(b).Run(); err != nil {
		return nil, err
	}
	return b, nil
}

// Target converts the bindings into an active target owned by userID.
func (b *Bindings) Target(userID string) (*model.SyncTarget, error) {
	if err := errors.Join(
		validateAddress(b.Address),
		validateRequired("Host")(b.Host),
		validatePort(b.Port),
		validateInterval(b.Interval),
	); err != nil {
		return nil, err
	}

	security := model.SecurityMode(b.Security)
	if !security.Valid() {
		return nil, fmt.Errorf("unknown security mode %q", b.Security)
	}

	port, _ := strconv.Atoi(strings.TrimSpace(b.Port))
	interval := model.DefaultSyncIntervalMin
	if s := strings.TrimSpace(b.Interval); s != "" {
		interval, _ = strconv.Atoi(s)
	}

	return &model.SyncTarget{
		UserID:          userID,
		Address:         strings.TrimSpace(b.Address),
		Username:        strings.TrimSpace(b.Username),
		Host:            strings.TrimSpace(b.Host),
		Port:            port,
		Security:        security,
		Folder:          strings.TrimSpace(b.Folder),
		SyncIntervalMin: interval,
		Active:          true,
	}, nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("Address is required")
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("invalid address %q", s)
	}
	return nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	return nil
}

func validateInterval(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return errors.New("interval must be a positive number of minutes")
	}
	return nil
}
