// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chatcapture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holostream/archivist/internal/dataset"
	"github.com/holostream/archivist/internal/model"
	"github.com/holostream/archivist/internal/store"
)

func writeTestArchive(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.chat.json")
	require.NoError(t, os.WriteFile(path, []byte(`[]`), 0o644))
	return path
}

func TestUploader_UploadDeletesLocalFileAndPendingRowOnSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.PutPendingChatCapture(ctx, &model.PendingChatCapture{ID: "job1"}))

	dir := t.TempDir()
	path := writeTestArchive(t, dir)

	u := &Uploader{Store: st, Dataset: &dataset.Index{}, RcloneBinary: "true", RcloneRemote: "remote"}
	require.NoError(t, u.Upload(ctx, "job1", "UC1", false, path))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	_, err = st.GetPendingChatCapture(ctx, "job1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUploader_UploadLeavesFileInPlaceOnRcloneFailure(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.PutPendingChatCapture(ctx, &model.PendingChatCapture{ID: "job2"}))

	dir := t.TempDir()
	path := writeTestArchive(t, dir)

	u := &Uploader{Store: st, Dataset: &dataset.Index{}, RcloneBinary: "false", RcloneRemote: "remote"}
	err := u.Upload(ctx, "job2", "UC1", false, path)
	require.Error(t, err)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "local archive must survive a failed upload")

	_, err = st.GetPendingChatCapture(ctx, "job2")
	require.NoError(t, err, "pending row must survive a failed upload for retry")
}

func TestUploader_UploadMissingArchiveErrors(t *testing.T) {
	st := store.NewMemoryStore()
	u := &Uploader{Store: st, Dataset: &dataset.Index{}, RcloneBinary: "true"}
	err := u.Upload(context.Background(), "job3", "UC1", false, filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
