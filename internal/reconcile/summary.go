package reconcile

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Counter names reported in the run summary.
const (
	PullCreatedLocal               = "pull_created_local"
	PullUpdatedLocal               = "pull_updated_local"
	PullSkippedNoChange            = "pull_skipped_no_change"
	PullMovedLocal                 = "pull_moved_local"
	PullDeletedLocalOrphan         = "pull_deleted_local_orphan"
	PullDeletedOrphanedAttachments = "pull_deleted_orphaned_attachments"
	PullSkippedEmpty               = "pull_skipped_empty"
	PullErrors                     = "pull_errors"

	PushCreatedRemote              = "push_created_remote"
	PushUpdatedRemote              = "push_updated_remote"
	PushTrashedRemote              = "push_trashed_remote"
	PushSkippedNoChange            = "push_skipped_no_change"
	PushSkippedNoMaterialChange    = "push_skipped_no_material_change"
	PushSkippedConflictRemoteNewer = "push_skipped_conflict_remote_newer"
	PushSkippedToggleHeld          = "push_skipped_toggle_held"
	PushSkippedDeletedRemotely     = "push_skipped_deleted_remotely"
	PushSkippedPotentialDuplicate  = "push_skipped_potential_duplicate_new_note"
	PushCherryPickLocalChosen      = "push_cherrypick_local_chosen"
	PushCherryPickRemoteChosen     = "push_cherrypick_remote_chosen"
	PushCherryPickUserSkipped      = "push_cherrypick_user_skipped"
	PushCherryPickDryRunPrompts    = "push_cherrypick_dry_run_prompts"
	PushConflicts                  = "push_conflicts"
	PushListRewriteTimeouts        = "push_list_rewrite_timeouts"
	PushDeclined                   = "push_declined"
	PushErrorsApply                = "push_errors_apply"
	PushErrorsLocalIDUpdate        = "push_errors_local_id_update"
	PushErrorsCommit               = "push_errors_commit"
	LocalParseFailures             = "local_parse_failures"
)

// Summary counts what a run did. It belongs to one run.
type Summary struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{counts: make(map[string]int)}
}

// Inc adds one to a counter.
func (s *Summary) Inc(name string) {
	s.Add(name, 1)
}

// Add adds n to a counter.
func (s *Summary) Add(name string, n int) {
	if n == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[name] += n
}

// Get returns a counter's value.
func (s *Summary) Get(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[name]
}

// Counts returns a copy of every non-zero counter.
func (s *Summary) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}

	return out
}

// Names returns the non-zero counter names, sorted.
func (s *Summary) Names() []string {
	counts := s.Counts()

	names := make([]string, 0, len(counts))
	for k := range counts {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

// Errors is the number of notes that failed in either pass.
func (s *Summary) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[PullErrors] + s.counts[PushErrorsApply] +
		s.counts[PushErrorsLocalIDUpdate] + s.counts[PushErrorsCommit]
}

// String renders one "name: n" line per non-zero counter.
func (s *Summary) String() string {
	var b strings.Builder

	for _, name := range s.Names() {
		fmt.Fprintf(&b, "%s: %d\n", name, s.Get(name))
	}

	return b.String()
}
