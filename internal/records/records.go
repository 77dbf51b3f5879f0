// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package records builds the cached Rclone-derived records tree GET
// /api/records serves (spec.md §6). Grounded directly on
// original_source/internals/tasks/records.py (RecordedStreamTasks):
// shell out to `rclone lsjson -R <target>`, keep only paths rooted at
// the four archive base folders, and fold the flat listing into a
// nested folder tree with md5(path)-derived node ids.
package records

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/holostream/archivist/internal/dataset"
)

// Node is one entry in the records tree; JSON field names mirror
// VTHellRecords.to_json's shape so existing clients need no changes.
type Node struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"` // "folder" | "file"
	Toggled  *bool   `json:"toggled,omitempty"`
	Children []*Node `json:"children,omitempty"`
	Size     *int64  `json:"size,omitempty"`
	MimeType string  `json:"mimetype,omitempty"`
	ModTime  *int64  `json:"modtime,omitempty"`
}

// validBaseFolders are the only top-level rclone paths folded into the
// tree; anything else (the remote's own scratch space, unrelated
// folders a shared remote target might contain) is dropped.
var validBaseFolders = map[string]bool{
	dataset.FolderStreamArchive:       true,
	dataset.FolderMemberStreamArchive: true,
	dataset.FolderChatArchive:         true,
	dataset.FolderMemberChatArchive:   true,
}

// rcloneEntry is one row of `rclone lsjson -R`'s output.
type rcloneEntry struct {
	Path     string `json:"Path"`
	Name     string `json:"Name"`
	Size     int64  `json:"Size"`
	MimeType string `json:"MimeType"`
	ModTime  string `json:"ModTime"`
	IsDir    bool   `json:"IsDir"`
}

// Builder runs rclone and folds its output into a Node tree.
type Builder struct {
	Binary       string // defaults to "rclone"
	RemoteTarget string // e.g. "gdrive:VTHell"
}

// Build shells out to rclone and returns the root node plus the total
// byte size of every file entry. A nil root with no error means rclone
// produced no archive-rooted entries at all.
func (b *Builder) Build(ctx context.Context) (*Node, int64, error) {
	binary := b.Binary
	if binary == "" {
		binary = "rclone"
	}

	cmd := exec.CommandContext(ctx, binary, "lsjson", "-R", b.RemoteTarget)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return nil, 0, fmt.Errorf("records: rclone lsjson: %w: %s", err, msg)
	}

	var entries []rcloneEntry
	if err := json.Unmarshal(stdout.Bytes(), &entries); err != nil {
		return nil, 0, fmt.Errorf("records: decode rclone output: %w", err)
	}

	filtered := make([]rcloneEntry, 0, len(entries))
	for _, e := range entries {
		base := e.Path
		if i := strings.IndexByte(e.Path, '/'); i >= 0 {
			base = e.Path[:i]
		}
		if validBaseFolders[base] {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil, 0, nil
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Path < filtered[j].Path })

	root := &Node{ID: "archivist", Name: "Archivist", Type: "folder", Toggled: boolPtr(true), Children: []*Node{}}
	var total int64
	for _, e := range filtered {
		parts := strings.Split(e.Path, "/")
		dirs, leaf := parts[:len(parts)-1], parts[len(parts)-1]

		if e.IsDir && len(parts) == 1 {
			root.Children = append(root.Children, &Node{
				ID: hashPath(e.Path), Name: e.Path, Type: "folder", Toggled: boolPtr(true), Children: []*Node{},
			})
			continue
		}

		cur := root
		for _, d := range dirs {
			cur = findOrAddFolder(cur, d, e.Path)
		}
		if e.IsDir {
			cur.Children = append(cur.Children, &Node{
				ID: hashPath(e.Path), Name: leaf, Type: "folder", Children: []*Node{},
			})
			continue
		}
		total += e.Size
		size := e.Size
		cur.Children = append(cur.Children, &Node{
			ID:       hashPath(e.Path),
			Name:     leaf,
			Type:     "file",
			Size:     &size,
			MimeType: orDefault(e.MimeType, "application/octet-stream"),
			ModTime:  parseModTime(e.ModTime),
		})
	}
	return root, total, nil
}

func findOrAddFolder(parent *Node, name, fullPath string) *Node {
	for _, c := range parent.Children {
		if c.Name == name && c.Type == "folder" {
			return c
		}
	}
	child := &Node{ID: hashPath(fullPath), Name: name, Type: "folder", Children: []*Node{}}
	parent.Children = append(parent.Children, child)
	return child
}

func hashPath(path string) string {
	sum := md5.Sum([]byte(path)) //nolint:gosec // content-addressing, not a security boundary
	return hex.EncodeToString(sum[:])
}

func parseModTime(iso string) *int64 {
	if iso == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return nil
	}
	unix := t.Unix()
	return &unix
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func boolPtr(v bool) *bool { return &v }
