package conflict

import (
	"testing"
	"time"

	"github.com/sproutlabs/sproutsync/internal/op"
	"github.com/sproutlabs/sproutsync/internal/policy"
)

func localAt(t time.Time) op.Record {
	return op.Record{
		ID:         "op-1",
		Type:       op.TypeUpdate,
		ModelName:  "child_profile",
		RecordID:   "c-1",
		EnqueuedAt: t,
	}
}

func TestLastWriteWinsNewerLocal(t *testing.T) {
	remote := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := localAt(remote.Add(5 * time.Minute))

	got := Resolve(local, remote, policy.LastWriteWins)
	if got != ForceLocal {
		t.Errorf("newer local write must win: got %v", got)
	}
}

func TestLastWriteWinsNewerRemote(t *testing.T) {
	remote := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := localAt(remote.Add(-5 * time.Minute))

	got := Resolve(local, remote, policy.LastWriteWins)
	if got != AcceptRemote {
		t.Errorf("newer remote write must win: got %v", got)
	}
}

func TestLastWriteWinsTieGoesToRemote(t *testing.T) {
	remote := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := localAt(remote)

	got := Resolve(local, remote, policy.LastWriteWins)
	if got != AcceptRemote {
		t.Errorf("equal timestamps must accept remote: got %v", got)
	}
}

func TestManualMergeDefers(t *testing.T) {
	remote := time.Now()
	local := localAt(remote.Add(time.Hour))

	if got := Resolve(local, remote, policy.ManualMerge); got != DeferToUser {
		t.Errorf("manual merge must defer regardless of timestamps: got %v", got)
	}
}

func TestPromptUserDefers(t *testing.T) {
	remote := time.Now()
	local := localAt(remote.Add(time.Hour))

	if got := Resolve(local, remote, policy.PromptUser); got != DeferToUser {
		t.Errorf("prompt mode must defer to the user: got %v", got)
	}
}

func TestUnknownModeDefers(t *testing.T) {
	// An unrecognized mode must fail safe, never silently overwrite.
	if got := Resolve(localAt(time.Now()), time.Now(), policy.ConflictMode("bogus")); got != DeferToUser {
		t.Errorf("unknown mode must defer: got %v", got)
	}
}

func TestResolutionString(t *testing.T) {
	cases := map[Resolution]string{
		AcceptRemote: "accept_remote",
		ForceLocal:   "force_local",
		DeferToUser:  "defer_to_user",
	}
	for res, want := range cases {
		if res.String() != want {
			t.Errorf("Resolution(%d).String() = %q, want %q", res, res.String(), want)
		}
	}
}
