// Package curriculum implements the curriculum puller (C7): a periodic job
// that discovers new VKP artifacts in the cloud control plane's blob store
// and hands them to the VKP manager (C6) for install. Grounded on the
// a retention-sweep ticker-loop shape, generalized from a
// single-tenant retention sweep to a remote-discovery-then-install cycle.
package curriculum

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/edge-tutor/node/pkg/ports"
)

// DefaultPrefix is the blob-store key prefix artifacts are listed under:
// "<prefix><subject>/<grade>/<version>.vkp.json".
const DefaultPrefix = "curriculum/"

// DefaultInterval is the tick period (spec §4.7: "default: hourly").
const DefaultInterval = time.Hour

// Installer is the subset of vkp.Manager the puller depends on.
type Installer interface {
	Install(ctx context.Context, subject, grade string, raw []byte) (string, error)
	ActiveVersionFor(subject, grade string) string
}

// JobRecorder receives a background job's per-tick summary counters
// (spec §4.7: "emits a summary counter to telemetry: checks, updates-applied,
// failures").
type JobRecorder interface {
	RecordJobSummary(job string, checks, updatesApplied, failures int)
}

// Puller is the production C7 implementation.
type Puller struct {
	blob      ports.BlobStorePort
	installer Installer
	recorder  JobRecorder
	log       *slog.Logger
	interval  time.Duration
	prefix    string

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Puller. recorder may be nil (summaries are dropped).
func New(blob ports.BlobStorePort, installer Installer, recorder JobRecorder, interval time.Duration, prefix string, logger *slog.Logger) *Puller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Puller{blob: blob, installer: installer, recorder: recorder, log: logger, interval: interval, prefix: prefix}
}

// Start launches the background puller loop.
func (p *Puller) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
	p.log.Info("curriculum puller started", "interval", p.interval, "prefix", p.prefix)
}

// Stop signals the loop to exit and waits for it to finish.
func (p *Puller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.log.Info("curriculum puller stopped")
}

func (p *Puller) run(ctx context.Context) {
	defer close(p.done)

	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one discover-compare-install cycle. A List failure (no network,
// control plane unreachable) is a no-op, per spec §4.7 step 5: the next tick
// retries, no global backoff.
func (p *Puller) tick(ctx context.Context) {
	objects, err := p.blob.List(ctx, p.prefix)
	if err != nil {
		p.log.Warn("curriculum puller: could not list remote artifacts, skipping tick", "error", err)
		return
	}

	latest := latestPerArtifact(objects, p.prefix)

	checks, applied, failures := 0, 0, 0
	for _, a := range latest {
		checks++
		local := p.installer.ActiveVersionFor(a.subject, a.grade)
		if !a.version.GreaterThan(parseVersionOrZero(local)) {
			continue
		}
		data, _, err := p.blob.Get(ctx, a.key)
		if err != nil {
			p.log.Error("curriculum puller: download failed", "key", a.key, "error", err)
			failures++
			continue
		}
		installed, err := p.installer.Install(ctx, a.subject, a.grade, data)
		if err != nil {
			p.log.Error("curriculum puller: install failed", "subject", a.subject, "grade", a.grade, "version", a.version.String(), "error", err)
			failures++
			continue
		}
		p.log.Info("curriculum puller: installed new version", "subject", a.subject, "grade", a.grade, "version", installed)
		applied++
	}

	if p.recorder != nil {
		p.recorder.RecordJobSummary("curriculum_pull", checks, applied, failures)
	}
}

type artifact struct {
	subject string
	grade   string
	version *semver.Version
	key     string
}

// latestPerArtifact groups listed objects by (subject, grade) and keeps the
// highest semantic version for each, per spec §4.7 step 2.
func latestPerArtifact(objects []ports.BlobObject, prefix string) []artifact {
	best := make(map[string]artifact)
	for _, obj := range objects {
		subject, grade, version, ok := parseArtifactKey(obj.Key, prefix)
		if !ok {
			continue
		}
		k := subject + "|" + grade
		if existing, found := best[k]; !found || version.GreaterThan(existing.version) {
			best[k] = artifact{subject: subject, grade: grade, version: version, key: obj.Key}
		}
	}
	out := make([]artifact, 0, len(best))
	for _, a := range best {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].subject != out[j].subject {
			return out[i].subject < out[j].subject
		}
		return out[i].grade < out[j].grade
	})
	return out
}

// parseArtifactKey parses "<prefix><subject>/<grade>/<version>.vkp.json".
func parseArtifactKey(key, prefix string) (subject, grade string, version *semver.Version, ok bool) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == key && prefix != "" {
		return "", "", nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return "", "", nil, false
	}
	versionPart := strings.TrimSuffix(parts[2], ".vkp.json")
	if versionPart == parts[2] {
		return "", "", nil, false
	}
	v, err := semver.NewVersion(versionPart)
	if err != nil {
		return "", "", nil, false
	}
	return parts[0], parts[1], v, true
}

func parseVersionOrZero(s string) *semver.Version {
	if s == "" {
		return semver.MustParse("0.0.0")
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return semver.MustParse("0.0.0")
	}
	return v
}

// ArtifactKey builds the blob-store key for an artifact, used by the
// install_vkp external operation and by tests seeding a fake blob store.
func ArtifactKey(prefix, subject, grade, version string) string {
	return fmt.Sprintf("%s%s/%s/%s.vkp.json", prefix, subject, grade, version)
}
