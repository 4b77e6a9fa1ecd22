package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/mongocfg/pkg/stores"
	"github.com/rs/zerolog/log"
)

// Facts is the read interface over platform facts consulted for defaults.
type Facts interface {
	Architecture(ctx context.Context) (string, error)
	OSFamily(ctx context.Context) (string, error)
}

// PlatformFacts is a snapshot of the facts the resolver consults.
type PlatformFacts struct {
	Architecture string `json:"architecture"`
	OSFamily     string `json:"os_family"`
}

// Fact namespace and keys used in the store.
const (
	FactsNamespace     = "os.basic"
	FactKeyArch        = "architecture"
	FactKeyOSFamily    = "os_family"
	defaultFactsTTL    = time.Hour
	defaultOSRelease   = "/etc/os-release"
	remoteOSReleaseCmd = "cat /etc/os-release 2>/dev/null || cat /usr/lib/os-release 2>/dev/null"
)

// Snapshot reads every fact from f.
func Snapshot(ctx context.Context, f Facts) (PlatformFacts, error) {
	if f == nil {
		return PlatformFacts{}, errors.New("facts provider is nil")
	}

	arch, err := f.Architecture(ctx)
	if err != nil {
		return PlatformFacts{}, fmt.Errorf("failed to read architecture: %w", err)
	}

	family, err := f.OSFamily(ctx)
	if err != nil {
		return PlatformFacts{}, fmt.Errorf("failed to read os family: %w", err)
	}

	return PlatformFacts{Architecture: arch, OSFamily: family}, nil
}

// StaticFacts returns fixed values.
type StaticFacts struct {
	Arch   string
	Family string
}

func (s StaticFacts) Architecture(context.Context) (string, error) { return s.Arch, nil }

func (s StaticFacts) OSFamily(context.Context) (string, error) { return s.Family, nil }

// LocalFacts reads facts from the machine running the generator.
type LocalFacts struct {
	// OSReleasePath overrides /etc/os-release.
	OSReleasePath string
}

// Architecture maps the Go runtime architecture to the kernel machine name.
func (l LocalFacts) Architecture(context.Context) (string, error) {
	return machineFromGOARCH(runtime.GOARCH), nil
}

// OSFamily derives the family from os-release. Hosts without the file
// report an empty family.
func (l LocalFacts) OSFamily(context.Context) (string, error) {
	path := l.OSReleasePath
	if path == "" {
		path = defaultOSRelease
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	return osFamilyFromRelease(parseOSRelease(string(data))), nil
}

// CommandRunner runs a shell command on a target host.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)
}

// RemoteFacts reads facts from a host through a command runner, usually an SSH client.
type RemoteFacts struct {
	Runner CommandRunner
}

func (r RemoteFacts) Architecture(ctx context.Context) (string, error) {
	stdout, stderr, err := r.Runner.ExecuteCommand(ctx, "uname -m")
	if err != nil {
		return "", fmt.Errorf("uname -m failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

func (r RemoteFacts) OSFamily(ctx context.Context) (string, error) {
	stdout, _, err := r.Runner.ExecuteCommand(ctx, remoteOSReleaseCmd)
	if err != nil {
		log.Debug().Err(err).Msg("os-release not readable on remote host")
		return "", nil
	}
	return osFamilyFromRelease(parseOSRelease(stdout)), nil
}

// StoredFacts reads previously collected facts from the store.
type StoredFacts struct {
	Store    stores.Store
	TargetID string
}

func (s StoredFacts) Architecture(ctx context.Context) (string, error) {
	return s.get(ctx, FactKeyArch)
}

func (s StoredFacts) OSFamily(ctx context.Context) (string, error) {
	return s.get(ctx, FactKeyOSFamily)
}

func (s StoredFacts) get(ctx context.Context, key string) (string, error) {
	fact, err := s.Store.GetFact(ctx, s.TargetID, FactsNamespace, key)
	if err != nil {
		return "", fmt.Errorf("no stored %s fact for %s: %w", key, s.TargetID, err)
	}

	var value string
	if err := json.Unmarshal([]byte(fact.Value), &value); err != nil {
		return "", fmt.Errorf("invalid stored %s fact: %w", key, err)
	}
	return value, nil
}

// FactsCollector snapshots facts from a provider and caches them in the store.
type FactsCollector struct {
	store stores.Store
	ttl   time.Duration
}

// FactsCollectionResult contains the result of a facts collection operation.
type FactsCollectionResult struct {
	TargetID    string        `json:"target_id"`
	Facts       PlatformFacts `json:"facts"`
	CollectedAt time.Time     `json:"collected_at"`
	Duration    time.Duration `json:"duration"`
}

// NewFactsCollector creates a new facts collector. A zero ttl uses one hour.
func NewFactsCollector(store stores.Store, ttl time.Duration) *FactsCollector {
	if ttl <= 0 {
		ttl = defaultFactsTTL
	}
	return &FactsCollector{store: store, ttl: ttl}
}

// Collect reads facts from source and stores them under targetID.
func (c *FactsCollector) Collect(ctx context.Context, targetID string, source Facts) (*FactsCollectionResult, error) {
	startTime := time.Now()

	log.Info().Str("target_id", targetID).Msg("Collecting facts")

	facts, err := Snapshot(ctx, source)
	if err != nil {
		return nil, err
	}

	for key, value := range map[string]string{
		FactKeyArch:     facts.Architecture,
		FactKeyOSFamily: facts.OSFamily,
	} {
		if err := c.storeFact(ctx, targetID, key, value); err != nil {
			return nil, err
		}
	}

	duration := time.Since(startTime)

	log.Info().
		Str("target_id", targetID).
		Str("architecture", facts.Architecture).
		Str("os_family", facts.OSFamily).
		Dur("duration", duration).
		Msg("Facts collection completed")

	return &FactsCollectionResult{
		TargetID:    targetID,
		Facts:       facts,
		CollectedAt: time.Now(),
		Duration:    duration,
	}, nil
}

func (c *FactsCollector) storeFact(ctx context.Context, targetID, key string, value string) error {
	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal fact data: %w", err)
	}

	now := time.Now()
	expiresAt := now.Add(c.ttl)

	fact := &stores.Fact{
		ID:        uuid.New().String(),
		TargetID:  targetID,
		Namespace: FactsNamespace,
		Key:       key,
		Value:     string(valueBytes),
		TTL:       int(c.ttl.Seconds()),
		ExpiresAt: &expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := c.store.UpsertFact(ctx, fact); err != nil {
		return fmt.Errorf("failed to store fact: %w", err)
	}
	return nil
}

// GetFacts returns the cached facts for a target.
func (c *FactsCollector) GetFacts(ctx context.Context, targetID string) (PlatformFacts, error) {
	return Snapshot(ctx, StoredFacts{Store: c.store, TargetID: targetID})
}

func machineFromGOARCH(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "i686"
	case "arm":
		return "armv7l"
	default:
		return goarch
	}
}

// parseOSRelease parses KEY=value lines, stripping optional quotes.
func parseOSRelease(content string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, "\"'")
	}
	return fields
}

var osFamilies = []struct {
	family string
	ids    []string
}{
	{"Debian", []string{"debian", "ubuntu", "raspbian", "linuxmint"}},
	{"RedHat", []string{"rhel", "fedora", "centos", "rocky", "almalinux", "amzn", "ol"}},
	{"Suse", []string{"suse", "opensuse", "sles"}},
	{"Archlinux", []string{"arch", "manjaro"}},
}

func osFamilyFromRelease(fields map[string]string) string {
	candidates := append([]string{fields["ID"]}, strings.Fields(fields["ID_LIKE"])...)
	for _, c := range candidates {
		c = strings.ToLower(c)
		for _, f := range osFamilies {
			for _, id := range f.ids {
				if c == id || strings.HasPrefix(c, id+"-") {
					return f.family
				}
			}
		}
	}
	return ""
}
