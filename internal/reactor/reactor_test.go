package reactor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/pollbot/internal/state"
)

const botName = "markerbot"

func newTemplates(t *testing.T) *Templates {
	t.Helper()
	tmpl, err := NewTemplates("", "")
	require.NoError(t, err)
	return tmpl
}

// newStore returns a loaded store backed by a temp file.
func newStore(t *testing.T, optOuts ...string) *state.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	doc := &state.Document{
		Owner:        "owner",
		BotHandle:    botName,
		ClientID:     "id",
		ClientSecret: "secret",
		AgentString:  "markerbot test",
		WatchList:    []string{"golang"},
		OptOutSet:    append([]string{}, optOuts...),
	}
	store := state.NewStore(path, nil)
	require.NoError(t, store.Persist(doc))
	_, err := store.Load()
	require.NoError(t, err)
	return store
}
