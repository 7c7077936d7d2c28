package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// agentDir is one agent's identity and database in a temp directory.
type agentDir struct {
	identity string
	db       string
	id       string
	ageKey   string
}

func newAgentDir(t *testing.T, name string) *agentDir {
	t.Helper()
	dir := t.TempDir()
	return &agentDir{
		identity: filepath.Join(dir, name+".yaml"),
		db:       filepath.Join(dir, name+".db"),
	}
}

func (a *agentDir) args(cmd ...string) []string {
	return append(cmd, "--identity", a.identity, "--db", a.db)
}

func (a *agentDir) keygen(t *testing.T) {
	t.Helper()
	var res KeygenResult
	runJSON(t, &res, a.args("keygen")...)
	require.NotEmpty(t, res.AgentID)
	require.NotEmpty(t, res.AgePublicKey)
	assert.Equal(t, a.identity, res.Path)
	a.id = res.AgentID
	a.ageKey = res.AgePublicKey
}

// runJSON executes args with --format json and decodes the data field
// of a successful response into data.
func runJSON(t *testing.T, data any, args ...string) {
	t.Helper()
	out, err := execute(t, append(args, "--format", "json")...)
	require.NoError(t, err, out)

	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
}

func (a *agentDir) create(t *testing.T, eventType, content string, extra ...string) string {
	t.Helper()
	var res map[string]string
	runJSON(t, &res, append(a.args("create", eventType, "--content", content), extra...)...)
	require.Equal(t, eventType, res["type"])
	return res["id"]
}

func (a *agentDir) events(t *testing.T, extra ...string) []EventRow {
	t.Helper()
	var rows []EventRow
	runJSON(t, &rows, append(a.args("events"), extra...)...)
	return rows
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	a := newAgentDir(t, "alice")
	a.keygen(t)
	first := a.id

	_, err := execute(t, a.args("keygen")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var res KeygenResult
	runJSON(t, &res, a.args("keygen", "--force")...)
	assert.NotEqual(t, first, res.AgentID)
}

func TestCreateAndListEvents(t *testing.T) {
	alice := newAgentDir(t, "alice")
	bob := newAgentDir(t, "bob")
	alice.keygen(t)
	bob.keygen(t)

	friendID := alice.create(t, "AddFriend", fmt.Sprintf(`{"friend":%q}`, bob.id))
	entryID := alice.create(t, "SharedEntry", `{"content":"hello"}`)
	assert.NotEqual(t, friendID, entryID)

	rows := alice.events(t, "--verify")
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "valid", r.Verdict, r.Reason)
		assert.Equal(t, alice.id, string(r.Author))
	}

	shared := alice.events(t, "--type", "SharedEntry")
	require.Len(t, shared, 1)
	assert.Equal(t, entryID, string(shared[0].ID))

	limited := alice.events(t, "--limit", "1")
	assert.Len(t, limited, 1)

	none := alice.events(t, "--author", bob.id)
	assert.Empty(t, none)
}

func TestCreateRejections(t *testing.T) {
	alice := newAgentDir(t, "alice")
	alice.keygen(t)

	tests := []struct {
		name      string
		eventType string
		content   string
		code      int
		errCode   string
	}{
		{"unknown type", "Poke", `{}`, ExitCommandError, ""},
		{"bad json", "SharedEntry", `{"content":`, ExitCommandError, ""},
		{"unknown field", "SharedEntry", `{"body":"hi"}`, ExitCommandError, ""},
		{"self friend", "AddFriend", fmt.Sprintf(`{"friend":%q}`, alice.id), ExitFailure, "APPLICATION_REJECTED"},
		{"missing parent", "SharedEntry", `{"content":"re","reply_to":"` + fmt.Sprintf("%064x", 1) + `"}`, ExitFailure, "UNRESOLVED_DEPENDENCY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, alice.args("create", tt.eventType, "--content", tt.content, "--format", "json")...)
			require.Error(t, err)
			assert.Equal(t, tt.code, GetExitCode(err))
			if tt.errCode != "" {
				var resp Response
				require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tt.errCode, resp.Error.Code)
			}
		})
	}

	assert.Empty(t, alice.events(t))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestCreateReportsOutputFailure(t *testing.T) {
	alice := newAgentDir(t, "alice")
	alice.keygen(t)

	cmd := NewRootCommand()
	cmd.SetOut(failingWriter{})
	cmd.SetErr(failingWriter{})
	cmd.SetArgs(alice.args("create", "AddFriend", "--content", fmt.Sprintf(`{"friend":%q}`, alice.id)))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "APPLICATION_REJECTED", ErrorCode(err))
	assert.Contains(t, err.Error(), "stdout closed")
}

func TestCreateRequiresIdentity(t *testing.T) {
	alice := newAgentDir(t, "alice")
	_, err := execute(t, alice.args("create", "SharedEntry", "--content", `{"content":"x"}`)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTickOffline(t *testing.T) {
	alice := newAgentDir(t, "alice")
	alice.keygen(t)
	alice.create(t, "SharedEntry", `{"content":"note to self"}`)

	var res TickResult
	runJSON(t, &res, alice.args("tick")...)
	assert.Equal(t, 0, res.Received)
	assert.Equal(t, 1, res.Counts.PrivateEvents)
	assert.Equal(t, 0, res.Counts.AwaitingPending)
}

func TestExportImport(t *testing.T) {
	alice := newAgentDir(t, "alice")
	device := newAgentDir(t, "device")
	friend := newAgentDir(t, "friend")
	alice.keygen(t)
	device.keygen(t)
	friend.keygen(t)

	alice.create(t, "AddFriend", fmt.Sprintf(`{"friend":%q}`, friend.id))
	alice.create(t, "SharedEntry", `{"content":"hello"}`)

	bundle := filepath.Join(t.TempDir(), "alice.history")
	var exported HistoryResult
	runJSON(t, &exported, alice.args("export", "-o", bundle, "--recipient", device.ageKey)...)
	assert.Equal(t, 2, exported.PrivateEvents)
	assert.FileExists(t, bundle)

	var imported HistoryResult
	runJSON(t, &imported, device.args("import", bundle)...)
	assert.Equal(t, 2, imported.PrivateEvents)

	rows := device.events(t, "--verify")
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, alice.id, string(r.Author))
		assert.Equal(t, "valid", r.Verdict, r.Reason)
	}

	// The friend is not a recipient of the bundle.
	_, err := execute(t, friend.args("import", bundle)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestImportMissingBundle(t *testing.T) {
	alice := newAgentDir(t, "alice")
	alice.keygen(t)

	_, err := execute(t, alice.args("import", filepath.Join(t.TempDir(), "nope"))...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDeliveryOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	alice := newAgentDir(t, "alice")
	bob := newAgentDir(t, "bob")
	alice.keygen(t)
	bob.keygen(t)

	redisFlag := []string{"--redis", mr.Addr()}
	alice.create(t, "AddFriend", fmt.Sprintf(`{"friend":%q}`, bob.id), redisFlag...)
	alice.create(t, "SharedEntry", `{"content":"hello bob"}`, redisFlag...)

	var bobTick TickResult
	runJSON(t, &bobTick, append(bob.args("tick"), redisFlag...)...)
	assert.Positive(t, bobTick.Received)
	assert.Equal(t, 2, bobTick.Counts.PrivateEvents)

	rows := bob.events(t, "--verify")
	require.Len(t, rows, 2)

	// Bob acknowledged on admission; alice picks the acknowledgements up.
	var aliceTick TickResult
	runJSON(t, &aliceTick, append(alice.args("tick"), redisFlag...)...)
	assert.Equal(t, 2, aliceTick.Counts.Acknowledgements)

	var synced map[string]string
	runJSON(t, &synced, append(alice.args("sync", bob.id), redisFlag...)...)
	assert.NotEmpty(t, synced["synced"])
}

func TestSyncArguments(t *testing.T) {
	alice := newAgentDir(t, "alice")
	alice.keygen(t)

	tests := []struct {
		name string
		args []string
	}{
		{"nothing", []string{"sync"}},
		{"id and linked", []string{"sync", "abc", "--linked"}},
		{"device and linked", []string{"sync", "--device", "--linked"}},
		{"offline", []string{"sync", "--linked"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, alice.args(tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "privlog.yaml")
	cfg := fmt.Sprintf("db_path: %s\nidentity_path: %s\n",
		filepath.Join(dir, "cfg.db"), filepath.Join(dir, "cfg.yaml"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	var res KeygenResult
	runJSON(t, &res, "keygen", "--config", cfgPath)
	assert.Equal(t, filepath.Join(dir, "cfg.yaml"), res.Path)

	var tick TickResult
	runJSON(t, &tick, "tick", "--config", cfgPath)
	assert.FileExists(t, filepath.Join(dir, "cfg.db"))

	require.NoError(t, os.WriteFile(cfgPath, []byte("bogus_key: 1\n"), 0o644))
	_, err := execute(t, "tick", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
