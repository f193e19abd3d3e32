// Package capture records the packets exchanged with each peer and archives
// them when the peer disconnects.
//
// A capture is a JSON-lines document, one Record per packet, stored under
//
//	<prefix><run id>/peer-<peer id>-<uuid>.jsonl
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-dev/netsync/pkg/protocol"
)

// ContentType is the content type of archived captures.
const ContentType = "application/x-ndjson"

// DefaultMaxBytes bounds the buffered capture of one peer.
const DefaultMaxBytes = 8 << 20

// Direction tells whether a packet was received or sent.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
)

// Record is one captured packet. Data marshals as base64.
type Record struct {
	Tick protocol.Tick `json:"tick"`
	Dir  Direction     `json:"dir"`
	Len  int           `json:"len"`
	Data []byte        `json:"data"`
}

// Config configures an Archive.
type Config struct {
	// Prefix is prepended to every key.
	Prefix string

	// RunID groups the captures of one process. Default: a random UUID.
	RunID string

	// MaxBytes caps the buffered capture of one peer. Records past the cap
	// are counted but not kept.
	// Default: DefaultMaxBytes
	MaxBytes int
}

type peerCapture struct {
	buf     bytes.Buffer
	records int
	dropped int
}

// Archive buffers per-peer captures in memory. It is safe for concurrent
// use.
type Archive struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	peers map[protocol.PeerID]*peerCapture
}

// New creates an Archive. A nil store discards captures on Finish.
func New(store Store, cfg Config, logger *slog.Logger) *Archive {
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "capture"),
		peers:  make(map[protocol.PeerID]*peerCapture),
	}
}

// RunID returns the run id used in keys.
func (a *Archive) RunID() string {
	return a.cfg.RunID
}

// Record appends one packet to the capture of peer. data is not retained.
func (a *Archive) Record(peer protocol.PeerID, tick protocol.Tick, dir Direction, data []byte) {
	line, err := json.Marshal(Record{Tick: tick, Dir: dir, Len: len(data), Data: data})
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	pc := a.peers[peer]
	if pc == nil {
		pc = &peerCapture{}
		a.peers[peer] = pc
	}
	if pc.buf.Len()+len(line)+1 > a.cfg.MaxBytes {
		pc.dropped++
		return
	}
	pc.buf.Write(line)
	pc.buf.WriteByte('\n')
	pc.records++
}

// Len returns the number of records buffered for peer.
func (a *Archive) Len(peer protocol.PeerID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pc := a.peers[peer]; pc != nil {
		return pc.records
	}
	return 0
}

// Finish removes the capture of peer and stores it. It returns the key
// written, or "" when there was nothing to store or no store configured.
func (a *Archive) Finish(ctx context.Context, peer protocol.PeerID) (string, error) {
	a.mu.Lock()
	pc := a.peers[peer]
	delete(a.peers, peer)
	a.mu.Unlock()

	if pc == nil || pc.records == 0 || a.store == nil {
		return "", nil
	}

	key := a.key(peer)
	err := a.store.Put(ctx, key, Object{
		Body:        pc.buf.Bytes(),
		ContentType: ContentType,
		Metadata: map[string]string{
			"peer":    peer.String(),
			"run":     a.cfg.RunID,
			"records": strconv.Itoa(pc.records),
			"dropped": strconv.Itoa(pc.dropped),
		},
	})
	if err != nil {
		a.logger.Error("capture upload failed", "peer", peer, "key", key, "error", err)
		return "", err
	}
	a.logger.Info("capture stored", "peer", peer, "key", key, "records", pc.records, "dropped", pc.dropped)
	return key, nil
}

func (a *Archive) key(peer protocol.PeerID) string {
	return a.cfg.Prefix + a.cfg.RunID + "/peer-" + strconv.FormatUint(uint64(peer), 10) + "-" + uuid.NewString() + ".jsonl"
}

// Decode parses a capture document.
func Decode(data []byte) ([]Record, error) {
	var out []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
