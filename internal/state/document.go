package state

import (
	"fmt"
	"strings"

	"github.com/cexll/pollbot/internal/platform"
)

// Placeholder values written on first run. Validate rejects them.
const (
	placeholderOwner        = "owner_username_here"
	placeholderBotHandle    = "bot_username_here"
	placeholderClientID     = "bot_client_id_here"
	placeholderClientSecret = "bot_client_secret_here"
	placeholderAgentString  = "descriptive bot message here"
)

// Document is the persisted state of the bot. Field names are part of the file
// format and must not change.
type Document struct {
	Owner        string   `json:"owner"`
	BotHandle    string   `json:"bot_handle"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AgentString  string   `json:"agent_string"`
	WatchList    []string `json:"watch_list"`
	OptOutSet    []string `json:"opt_out_set"`
}

// Placeholder returns the document written when none exists yet.
func Placeholder() *Document {
	return &Document{
		Owner:        placeholderOwner,
		BotHandle:    placeholderBotHandle,
		ClientID:     placeholderClientID,
		ClientSecret: placeholderClientSecret,
		AgentString:  placeholderAgentString,
		WatchList:    []string{},
		OptOutSet:    []string{},
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() Document {
	cp := *d
	cp.WatchList = append([]string{}, d.WatchList...)
	cp.OptOutSet = append([]string{}, d.OptOutSet...)
	return cp
}

func (d *Document) normalize() {
	if d.WatchList == nil {
		d.WatchList = []string{}
	}
	if d.OptOutSet == nil {
		d.OptOutSet = []string{}
	}
}

// Validate checks that every identity field is filled in with a real value.
func (d *Document) Validate() error {
	fields := []struct {
		name        string
		value       string
		placeholder string
	}{
		{"owner", d.Owner, placeholderOwner},
		{"bot_handle", d.BotHandle, placeholderBotHandle},
		{"client_id", d.ClientID, placeholderClientID},
		{"client_secret", d.ClientSecret, placeholderClientSecret},
		{"agent_string", d.AgentString, placeholderAgentString},
	}

	var missing, placeholders []string
	for _, f := range fields {
		switch strings.TrimSpace(f.value) {
		case "":
			missing = append(missing, f.name)
		case f.placeholder:
			placeholders = append(placeholders, f.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrIncompleteDocument, strings.Join(missing, ", "))
	}
	if len(placeholders) > 0 {
		return fmt.Errorf("%w: %s", ErrPlaceholderCredentials, strings.Join(placeholders, ", "))
	}
	return nil
}

// Credentials builds login credentials. The password is not part of the
// document and is supplied by the caller.
func (d *Document) Credentials(password string) platform.Credentials {
	return platform.Credentials{
		Username:     d.BotHandle,
		Password:     password,
		ClientID:     d.ClientID,
		ClientSecret: d.ClientSecret,
		UserAgent:    d.AgentString,
	}
}
