// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/holostream/archivist/internal/log"
)

// Config is every knob named in spec.md §6's "Environment/config" list,
// plus the IPC socket path, the leader-lock path, and the OTLP toggle
// the rest of the ambient stack needs to boot. Every field also has a
// yaml tag so it can be set via an optional file; ENV always wins over
// the file, and the file always wins over the Go-side default.
type Config struct {
	StorePath string `yaml:"store_path"`

	AutoschedulerTickSeconds int `yaml:"autoscheduler_tick_seconds"`
	DownloaderTickSeconds    int `yaml:"downloader_tick_seconds"`
	GracePeriodSeconds       int `yaml:"grace_period_seconds"`

	DiscoveryBaseURL  string `yaml:"discovery_base_url"`
	DiscoveryAPIKey   string `yaml:"discovery_api_key"`
	LiveIndexEndpoint string `yaml:"live_index_endpoint"`

	YTDLPBinary      string `yaml:"ytdlp_binary"`
	StreamlinkBinary string `yaml:"streamlink_binary"`
	FFmpegBinary     string `yaml:"ffmpeg_binary"`
	RcloneBinary     string `yaml:"rclone_binary"`
	MkvmergeBinary   string `yaml:"mkvmerge_binary"`
	CookieFile       string `yaml:"cookie_file"`

	UploadBackendTarget string `yaml:"upload_backend_target"`
	UploadDisabled      bool   `yaml:"upload_disabled"`

	ReverseProxySecret string `yaml:"reverse_proxy_secret"`
	APIPassword        string `yaml:"api_password"`

	NotificationWebhookURL string `yaml:"notification_webhook_url"`

	DatasetDir           string `yaml:"dataset_dir"`
	DatasetBadgerDir     string `yaml:"dataset_badger_dir"`
	DatasetRemoteHashURL string `yaml:"dataset_remote_hash_url"`
	StreamDumpDir        string `yaml:"stream_dump_dir"`
	ChatArchiveDir       string `yaml:"chat_archive_dir"`

	IPCSocketPath  string `yaml:"ipc_socket_path"`
	LeaderLockPath string `yaml:"leader_lock_path"`

	ListenAddr string `yaml:"listen_addr"`

	OTLPEnabled  bool   `yaml:"otlp_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load builds a Config by merging, in increasing priority: compiled-in
// defaults, an optional YAML file (path from ARCHIVIST_CONFIG_FILE), and
// environment variables.
func Load() (Config, error) {
	file, err := loadFile(os.Getenv("ARCHIVIST_CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		StorePath: parseString("ARCHIVIST_STORE_PATH", orDefault(file.StorePath, "./dbs/archivist.db")),

		AutoschedulerTickSeconds: parseInt("ARCHIVIST_AUTOSCHEDULER_TICK_SECONDS", orDefaultInt(file.AutoschedulerTickSeconds, 180)),
		DownloaderTickSeconds:    parseInt("ARCHIVIST_DOWNLOADER_TICK_SECONDS", orDefaultInt(file.DownloaderTickSeconds, 60)),
		GracePeriodSeconds:       parseInt("ARCHIVIST_GRACE_PERIOD_SECONDS", orDefaultInt(file.GracePeriodSeconds, 120)),

		DiscoveryBaseURL:  parseString("ARCHIVIST_DISCOVERY_BASE_URL", file.DiscoveryBaseURL),
		DiscoveryAPIKey:   parseString("ARCHIVIST_DISCOVERY_API_KEY", file.DiscoveryAPIKey),
		LiveIndexEndpoint: parseString("ARCHIVIST_LIVE_INDEX_ENDPOINT", file.LiveIndexEndpoint),

		YTDLPBinary:      parseString("ARCHIVIST_YTDLP_BINARY", orDefault(file.YTDLPBinary, "yt-dlp")),
		StreamlinkBinary: parseString("ARCHIVIST_STREAMLINK_BINARY", orDefault(file.StreamlinkBinary, "streamlink")),
		FFmpegBinary:     parseString("ARCHIVIST_FFMPEG_BINARY", orDefault(file.FFmpegBinary, "ffmpeg")),
		RcloneBinary:     parseString("ARCHIVIST_RCLONE_BINARY", orDefault(file.RcloneBinary, "rclone")),
		MkvmergeBinary:   parseString("ARCHIVIST_MKVMERGE_BINARY", orDefault(file.MkvmergeBinary, "mkvmerge")),
		CookieFile:       parseString("ARCHIVIST_COOKIE_FILE", file.CookieFile),

		UploadBackendTarget: parseString("ARCHIVIST_UPLOAD_BACKEND_TARGET", file.UploadBackendTarget),
		UploadDisabled:      parseBool("ARCHIVIST_UPLOAD_DISABLED", file.UploadDisabled),

		ReverseProxySecret: parseString("ARCHIVIST_REVERSE_PROXY_SECRET", file.ReverseProxySecret),
		APIPassword:        parseString("ARCHIVIST_API_PASSWORD", file.APIPassword),

		NotificationWebhookURL: parseString("ARCHIVIST_NOTIFICATION_WEBHOOK_URL", file.NotificationWebhookURL),

		DatasetDir:           parseString("ARCHIVIST_DATASET_DIR", orDefault(file.DatasetDir, "./dataset")),
		DatasetBadgerDir:     parseString("ARCHIVIST_DATASET_BADGER_DIR", orDefault(file.DatasetBadgerDir, "./dbs/dataset-mirror")),
		DatasetRemoteHashURL: parseString("ARCHIVIST_DATASET_REMOTE_HASH_URL", file.DatasetRemoteHashURL),
		StreamDumpDir:        parseString("ARCHIVIST_STREAM_DUMP_DIR", orDefault(file.StreamDumpDir, "./streamdump")),
		ChatArchiveDir:       parseString("ARCHIVIST_CHAT_ARCHIVE_DIR", orDefault(file.ChatArchiveDir, "./chatarchive")),

		IPCSocketPath:  parseString("ARCHIVIST_IPC_SOCKET_PATH", orDefault(file.IPCSocketPath, "./dbs/archivist.sock")),
		LeaderLockPath: parseString("ARCHIVIST_LEADER_LOCK_PATH", orDefault(file.LeaderLockPath, "./dbs/archivist.lock")),

		ListenAddr: parseString("ARCHIVIST_LISTEN_ADDR", orDefault(file.ListenAddr, ":8080")),

		OTLPEnabled:  parseBool("ARCHIVIST_OTLP_ENABLED", file.OTLPEnabled),
		OTLPEndpoint: parseString("ARCHIVIST_OTLP_ENDPOINT", file.OTLPEndpoint),
	}, nil
}

// loadFile reads an optional YAML file. A blank path, or a path that
// does not exist, yields a zero-value Config rather than an error: the
// file layer is entirely optional.
func loadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithComponent("config").Debug().Str("path", path).Msg("config file not found, skipping")
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config: read file %s: %w", path, err)
	}
	var f Config
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("config: parse file %s: %w", path, err)
	}
	log.WithComponent("config").Info().Str("path", path).Msg("loaded config file")
	return f, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
