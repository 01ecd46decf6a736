package datactl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// Swarm wraps the local BitTorrent client daemon: the external
// collaborator this controller hands publish/download requests to.
type Swarm struct {
	client *torrent.Client
	root   string
}

// NewSwarm opens a torrent client seeding/leeching out of storageRoot.
func NewSwarm(storageRoot string) (*Swarm, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = storageRoot
	cl, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("swarm client: %w", err)
	}
	return &Swarm{client: cl, root: storageRoot}, nil
}

func (s *Swarm) Close() {
	s.client.Close()
}

// Seed builds a torrent over dir and starts seeding it, returning the
// in-progress *torrent.Torrent so the caller can poll until metadata and
// pieces are confirmed complete.
func (s *Swarm) Seed(dir string) (*torrent.Torrent, error) {
	info := metainfo.Info{PieceLength: 256 * 1024}
	if err := info.BuildFromFilePath(dir); err != nil {
		return nil, fmt.Errorf("build torrent metadata for %s: %w", dir, err)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal torrent metadata for %s: %w", dir, err)
	}
	mi := &metainfo.MetaInfo{
		CreationDate: time.Now().Unix(),
		InfoBytes:    infoBytes,
	}
	t, err := s.client.AddTorrent(mi)
	if err != nil {
		return nil, fmt.Errorf("add torrent for %s: %w", dir, err)
	}
	t.DownloadAll()
	return t, nil
}

// Leech submits a magnet link for download into <root>/<datasetUID>/.
func (s *Swarm) Leech(datasetUID, magnetLink string) (*torrent.Torrent, error) {
	spec, err := torrent.TorrentSpecFromMagnetUri(magnetLink)
	if err != nil {
		return nil, fmt.Errorf("parse magnet link: %w", err)
	}
	t, _, err := s.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("add torrent spec: %w", err)
	}
	return t, nil
}

// Progress returns the fraction of a torrent's content downloaded, in
// [0, 1]. Returns 0 until metadata has arrived.
func Progress(t *torrent.Torrent) float64 {
	select {
	case <-t.GotInfo():
	default:
		return 0
	}
	total := t.Info().TotalLength()
	if total == 0 {
		return 1
	}
	return float64(t.BytesCompleted()) / float64(total)
}

// MagnetLink returns the magnet URI for a torrent whose metadata is known.
func MagnetLink(t *torrent.Torrent) string {
	return t.Metainfo().Magnet(nil, nil).String()
}

// pollUntilComplete polls t's progress at pollInterval until it reports
// 1.0 or ctx's deadline fires, matching the 50/100/50 ms cooperative
// polling cadences the publish/download/run paths all share.
func pollUntilComplete(ctx context.Context, t *torrent.Torrent) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if Progress(t) >= 1.0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("swarm transfer did not complete before deadline: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Swarm) datasetPath(datasetUID string) string {
	return filepath.Join(s.root, datasetUID)
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
