// Package githttp implements the Git Smart HTTP endpoint (spec §4.D): ref
// advertisement and the upload-pack/receive-pack services, proxied to the
// real git binary as a subprocess. Grounded on the teacher's
// internal/infrastructure/git/git_protocol.go (pkt-line codec, advertise-refs
// subprocess invocation, ContentType helpers) and its older
// internal/git/http.go (client-IP extraction, stateless-rpc piping,
// dumb-protocol ensureLocalRepo shape), adapted from the teacher's
// Postgres-backed visibility/token auth to the spec's single shared-secret
// Basic auth plus an optional private-network bypass.
package githttp

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/LunchBadger/configstore/internal/eventbus"
	"github.com/LunchBadger/configstore/internal/repomanager"
	"github.com/LunchBadger/configstore/pkg/coreerr"
	"github.com/LunchBadger/configstore/pkg/logger"
)

// Service names accepted on the smart-HTTP endpoint.
const (
	ServiceUploadPack  = "git-upload-pack"
	ServiceReceivePack = "git-receive-pack"
)

// defaultPrivateCIDRs are the client-IP ranges treated as trusted when
// Config.AuthOnPrivateNetworks is false (spec §4.D).
var defaultPrivateCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::1/128",
}

// Config controls the auth bypass behavior.
type Config struct {
	// AuthOnPrivateNetworks, when true, requires Basic auth even from
	// clients on a private/loopback network. When false (the default),
	// such clients skip the access-key check entirely.
	AuthOnPrivateNetworks bool
}

// Handler serves the smart-HTTP endpoint for every repository known to repos.
type Handler struct {
	repos        *repomanager.Manager
	bus          *eventbus.Bus
	cfg          Config
	privateNets  []*net.IPNet
	log          *logger.Logger
}

// New builds a Handler. bus may be nil, in which case push notifications are
// silently skipped (used by tooling that serves Git without the REST surface).
func New(repos *repomanager.Manager, bus *eventbus.Bus, cfg Config) *Handler {
	var nets []*net.IPNet
	for _, raw := range defaultPrivateCIDRs {
		_, ipnet, err := net.ParseCIDR(raw)
		if err == nil {
			nets = append(nets, ipnet)
		}
	}
	return &Handler{
		repos:       repos,
		bus:         bus,
		cfg:         cfg,
		privateNets: nets,
		log:         logger.Get().WithFields(logger.Component("git-http")),
	}
}

// IsValidService reports whether service is one of the two smart-HTTP services.
func IsValidService(service string) bool {
	return service == ServiceUploadPack || service == ServiceReceivePack
}

// InfoRefs serves GET /:producer/info/refs?service=git-{upload,receive}-pack.
func (h *Handler) InfoRefs(w http.ResponseWriter, r *http.Request, producer string) {
	service := r.URL.Query().Get("service")
	if !IsValidService(service) {
		http.Error(w, "unsupported service", http.StatusBadRequest)
		return
	}

	repo, err := h.authorize(r, producer)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	svcName := strings.TrimPrefix(service, "git-")

	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-advertisement", service))
	w.Header().Set("Cache-Control", "no-cache")

	if _, err := w.Write([]byte(encodePktLine(fmt.Sprintf("# service=%s\n", service)))); err != nil {
		return
	}
	if _, err := w.Write([]byte(flushPkt)); err != nil {
		return
	}

	cmd := exec.CommandContext(r.Context(), "git", svcName, "--stateless-rpc", "--advertise-refs", repo.Path)
	cmd.Stdout = w
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		h.log.Error("advertise-refs failed", logger.Producer(producer), logger.Error(err),
			logger.String("stderr", stderr.String()))
	}
}

// ServicePack serves POST /:producer/{service}.
func (h *Handler) ServicePack(w http.ResponseWriter, r *http.Request, producer, service string) {
	if !IsValidService(service) {
		http.Error(w, "unsupported service", http.StatusBadRequest)
		return
	}
	contentType := fmt.Sprintf("application/x-%s-request", service)
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != contentType {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	repo, err := h.authorize(r, producer)
	if err != nil {
		writeAuthError(w, err)
		return
	}

	svcName := strings.TrimPrefix(service, "git-")
	w.Header().Set("Content-Type", fmt.Sprintf("application/x-%s-result", service))

	if service != ServiceReceivePack {
		cmd := exec.CommandContext(r.Context(), "git", svcName, "--stateless-rpc", repo.Path)
		cmd.Stdin = r.Body
		cmd.Stdout = w
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			h.log.Error("service pack failed", logger.Producer(producer), logger.String("service", service),
				logger.Error(err), logger.String("stderr", stderr.String()))
		}
		return
	}

	var captured bytes.Buffer
	cmd := exec.CommandContext(r.Context(), "git", svcName, "--stateless-rpc", repo.Path)
	cmd.Stdin = r.Body
	cmd.Stdout = io.MultiWriter(w, &captured)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		h.log.Error("service pack failed", logger.Producer(producer), logger.String("service", service),
			logger.Error(err), logger.String("stderr", stderr.String()))
		return
	}

	changes := parsePostReceiveReport(captured.Bytes())
	if len(changes) > 0 && h.bus != nil {
		h.bus.Publish(producer, changes)
	}
}

// authorize resolves the producer's repository and enforces the dual auth
// strategy: clients on a trusted private network skip the access-key check
// unless Config.AuthOnPrivateNetworks is set; everyone else must present the
// repository's lunchbadger.accesskey as an HTTP Basic password with the
// username "git".
func (h *Handler) authorize(r *http.Request, producer string) (repomanager.Repository, error) {
	repo, err := h.repos.Get(producer)
	if err != nil {
		return repomanager.Repository{}, err
	}

	if !h.cfg.AuthOnPrivateNetworks && h.isPrivateClient(r) {
		return repo, nil
	}

	gitRepo, err := git.PlainOpen(repo.Path)
	if err != nil {
		return repomanager.Repository{}, coreerr.Wrap(coreerr.KindGeneric, "opening repository", err)
	}

	accessKey, err := repomanager.AccessKey(gitRepo)
	if err != nil {
		return repomanager.Repository{}, err
	}

	username, password, ok := r.BasicAuth()
	if !ok || username != "git" || password != accessKey {
		return repomanager.Repository{}, coreerr.New(coreerr.KindGeneric, "invalid or missing credentials")
	}

	return repo, nil
}

func (h *Handler) isPrivateClient(r *http.Request) bool {
	ip := clientIP(r)
	if ip == nil {
		return false
	}
	for _, n := range h.privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the request's observed remote address; X-Forwarded-For
// is not consulted.
func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

func writeAuthError(w http.ResponseWriter, err error) {
	if coreerr.IsRepoDoesNotExist(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="configstore"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

const flushPkt = "0000"

func encodePktLine(data string) string {
	return fmt.Sprintf("%04x%s", len(data)+4, data)
}

// sidebandProgress is the side-band-64k channel number git multiplexes
// hook stdout/stderr onto (1 is pack data, 3 is fatal error).
const sidebandProgress = 2

// parsePostReceiveReport scans the pkt-line stream git-receive-pack wrote to
// stdout and recovers the lines the post-receive hook (installed as
// "exec cat", spec §4.D/§6) echoed back on its own stdout, which git
// multiplexes onto the side-band-64k progress channel. post-receive only
// ever sees refs update-hook accepted and receive-pack actually wrote, so a
// rejected ref (non-fast-forward, or denyCurrentBranch refusing a dirty
// worktree) never produces a line here even though git-receive-pack itself
// still exits 0 (spec §8 invariant 6: a rejected push emits no event).
func parsePostReceiveReport(stream []byte) []eventbus.Change {
	var messages bytes.Buffer
	r := bytes.NewReader(stream)

	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			break
		}
		var length int
		if _, err := fmt.Sscanf(string(lenBuf), "%04x", &length); err != nil {
			break
		}
		if length == 0 {
			continue
		}
		if length <= 4 {
			break
		}
		payload := make([]byte, length-4)
		if _, err := io.ReadFull(r, payload); err != nil {
			break
		}
		if len(payload) > 0 && payload[0] == sidebandProgress {
			messages.Write(payload[1:])
		}
	}

	var changes []eventbus.Change
	for _, line := range strings.Split(messages.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 3 || !isHexRef(fields[0]) || !isHexRef(fields[1]) {
			continue
		}
		changes = append(changes, changeFromCommand(fields[0], fields[1], fields[2]))
	}
	return changes
}

func isHexRef(s string) bool {
	if len(s) < 40 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func changeFromCommand(before, after, ref string) eventbus.Change {
	kind := eventbus.ChangeHead
	name := ref
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		name = strings.TrimPrefix(ref, "refs/heads/")
	case strings.HasPrefix(ref, "refs/tags/"):
		kind = eventbus.ChangeTag
		name = strings.TrimPrefix(ref, "refs/tags/")
	}
	return eventbus.Change{Type: kind, Ref: name, Before: before, After: after}
}
