// Package swap promotes a fully staged runtime tree into the active slot.
// The swap is two renames with a rollback path: the previous installation is
// parked in a backup slot until the new tree is in place, and restored if the
// promotion rename fails.
package swap

import (
	"fmt"
	"log/slog"
	"os"

	"quill/internal/faults"
	"quill/internal/logging"
)

// Promote replaces the tree at active with the tree at staging.
//
// Order matters: the stale backup is cleared first, then the current active
// tree (if any) is renamed into backup, then staging is renamed into active.
// If that final rename fails the backup is renamed back so the host is left
// with the installation it started with. On success the backup is removed;
// a failure to remove it is logged but not fatal, and a later promotion
// clears it.
func Promote(staging, active, backup string, logger *slog.Logger) error {
	log := logging.NewComponentLogger(logger, "swap")

	if _, err := os.Stat(staging); err != nil {
		return faults.Wrap(faults.ErrInstall, "swap", "inspect-staging",
			fmt.Sprintf("staging tree missing at %s", staging), err)
	}

	if err := os.RemoveAll(backup); err != nil {
		return faults.Wrap(faults.ErrInstall, "swap", "clear-backup",
			fmt.Sprintf("could not clear stale backup at %s", backup), err)
	}

	hadActive := false
	if _, err := os.Stat(active); err == nil {
		hadActive = true
		if err := os.Rename(active, backup); err != nil {
			return faults.Wrap(faults.ErrInstall, "swap", "park-active",
				fmt.Sprintf("could not move current installation aside to %s", backup), err)
		}
	}

	if err := os.Rename(staging, active); err != nil {
		if hadActive {
			if restoreErr := os.Rename(backup, active); restoreErr != nil {
				log.Error("rollback failed, no installation active",
					logging.String(logging.FieldPath, active),
					logging.Error(restoreErr))
				return faults.Wrap(faults.ErrInstall, "swap", "rollback",
					"promotion and rollback both failed", restoreErr)
			}
			log.Warn("promotion failed, previous installation restored",
				logging.String(logging.FieldPath, active),
				logging.Error(err))
		}
		return faults.Wrap(faults.ErrInstall, "swap", "promote",
			fmt.Sprintf("could not promote staging into %s", active), err)
	}

	if hadActive {
		if err := os.RemoveAll(backup); err != nil {
			log.Warn("could not remove backup after promotion",
				logging.String(logging.FieldPath, backup),
				logging.Error(err))
		}
	}
	log.Info("installation promoted", logging.String(logging.FieldPath, active))
	return nil
}
