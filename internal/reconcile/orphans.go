package reconcile

import (
	"log/slog"
	"path"

	"github.com/alexjbarnes/keep-sync/internal/notes"
	"github.com/alexjbarnes/keep-sync/internal/vault"
	"golang.org/x/text/unicode/norm"
)

// Orphans removes local leftovers once a complete remote listing has
// been reconciled. It must never run on a partial listing.
type Orphans struct {
	vault  *vault.Vault
	logger *slog.Logger
}

// NewOrphans creates an orphan reconciler for v.
func NewOrphans(v *vault.Vault, logger *slog.Logger) *Orphans {
	return &Orphans{vault: v, logger: logger}
}

// DeleteNotes removes the files of local notes whose remote identity was
// not observed. Notes whose processing failed this pass are kept.
// Returns the number deleted and the number that could not be deleted.
func (o *Orphans) DeleteNotes(candidates []*notes.Record, failed map[string]bool) (deleted, errs int) {
	for _, rec := range candidates {
		if !rec.HasIdentity() || failed[rec.ID] {
			continue
		}

		if err := o.vault.DeleteFile(rec.Path); err != nil {
			errs++
			o.logger.Error("orphans: deleting local note failed",
				slog.String("path", rec.Path),
				slog.String("id", rec.ID),
				slog.String("error", err.Error()),
			)

			continue
		}

		deleted++
		o.logger.Info("orphans: deleted local note removed remotely",
			slog.String("path", rec.Path),
			slog.String("id", rec.ID),
		)
	}

	return deleted, errs
}

// DeleteAttachments removes files under Attachments/ that no local note
// and no remote note refers to. Returns the number deleted.
func (o *Orphans) DeleteAttachments(local, remote []notes.Record) (int, error) {
	files, err := o.vault.Attachments()
	if err != nil {
		return 0, err
	}

	referenced := make(map[string]bool)

	for _, set := range [][]notes.Record{local, remote} {
		for i := range set {
			for _, name := range set[i].Attachments {
				referenced[norm.NFC.String(path.Base(name))] = true
			}
		}
	}

	deleted := 0

	for _, name := range files {
		if referenced[name] {
			continue
		}

		rel := path.Join(notes.AttachmentsDir, name)
		if err := o.vault.DeleteFile(rel); err != nil {
			o.logger.Error("orphans: deleting attachment failed",
				slog.String("path", rel),
				slog.String("error", err.Error()),
			)

			continue
		}

		deleted++
		o.logger.Info("orphans: deleted unreferenced attachment", slog.String("path", rel))
	}

	return deleted, nil
}
