// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/holostream/archivist/internal/dataset"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
	"github.com/holostream/archivist/internal/subprocrunner"
)

// Uploader ships a finished chat archive to its dataset-resolved
// destination and removes the pending-capture row plus the local file
// on success, grounded on uploader.py's upload_files: rclone copy with
// progress-line error scanning, leaving the local file and the pending
// row alone on failure so a later run can retry or a human can
// intervene.
type Uploader struct {
	Store   store.Store
	Dataset *dataset.Index

	RcloneRemote string
	RcloneBinary string
}

// Upload copies path (a finished archive for the given job metadata) to
// its dataset-resolved Chat Archive / Member-Only Chat Archive folder,
// then deletes the PendingChatCapture row and the local file.
func (u *Uploader) Upload(ctx context.Context, jobID, channelID string, memberOnly bool, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("chatcapture: archive missing: %w", err)
	}

	base := u.Dataset.UploadBase(true, memberOnly, channelID)
	remote := fmt.Sprintf("%s:%s/%s", u.RcloneRemote, base, filepath.Base(path))

	binary := u.RcloneBinary
	if binary == "" {
		binary = "rclone"
	}

	r := subprocrunner.New(binary, []string{"copyto", path, remote}, subprocrunner.Stdout, subprocrunner.RcloneClassifier, 0)
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("chatcapture: start rclone: %w", err)
	}
	res, err := r.Wait(ctx)
	if err != nil {
		return fmt.Errorf("chatcapture: rclone: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("chatcapture: rclone exited %d: %s", res.ExitCode, res.Diagnostic)
	}

	if err := u.Store.DeletePendingChatCapture(ctx, jobID); err != nil {
		return fmt.Errorf("chatcapture: delete pending capture row: %w", err)
	}
	return os.Remove(path)
}

// UploadJob is the convenience form that reads the destination metadata
// straight off a model.Job, for the lifecycle engine's upload stage.
func (u *Uploader) UploadJob(ctx context.Context, job *model.Job, archivePath string) error {
	return u.Upload(ctx, job.ID, job.ChannelID, job.MemberOnly, archivePath)
}
