// Package fingerprint derives a stable repository identity shared by every
// clone of the same project. The fingerprint is the equality key used to
// decide which workstations belong to the same fleet.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	herderrors "github.com/Iron-Ham/herd/internal/errors"
)

// Method records which repository property the fingerprint was derived from.
type Method string

const (
	// MethodRemoteOrigin derives identity from the normalized origin URL.
	MethodRemoteOrigin Method = "remote-origin"
	// MethodRootCommit derives identity from the repository's first commit.
	MethodRootCommit Method = "root-commit"
)

// HashLength is the number of hex characters kept from the digest.
const HashLength = 16

// Fingerprint identifies a repository across clones and workstations.
// Immutable for the life of a repository; compared only by Hash.
type Fingerprint struct {
	Method     Method `json:"method"`
	Normalized string `json:"normalized"`
	Hash       string `json:"hash"`
}

// String returns the short hash used as the fleet equality key.
func (f *Fingerprint) String() string {
	if f == nil {
		return ""
	}
	return f.Hash
}

// Equal reports whether two fingerprints identify the same repository.
func (f *Fingerprint) Equal(other *Fingerprint) bool {
	if f == nil || other == nil {
		return false
	}
	return f.Hash == other.Hash
}

// Compute derives the repository fingerprint for repoDir.
// Preference order: the normalized remote origin URL, else the root commit
// hash. Two clones of the same remote collapse to one fingerprint regardless
// of protocol, credentials, or trailing URL formatting.
func Compute(repoDir string) (*Fingerprint, error) {
	if url, err := remoteOriginURL(repoDir); err == nil && url != "" {
		normalized := NormalizeRemoteURL(url)
		return &Fingerprint{
			Method:     MethodRemoteOrigin,
			Normalized: normalized,
			Hash:       hashOf(normalized),
		}, nil
	}

	if root, err := rootCommit(repoDir); err == nil && root != "" {
		return &Fingerprint{
			Method:     MethodRootCommit,
			Normalized: root,
			Hash:       hashOf(root),
		}, nil
	}

	if !isGitRepository(repoDir) {
		return nil, herderrors.NewGitError("cannot fingerprint directory", herderrors.ErrNotGitRepository).
			WithRepository(repoDir)
	}

	// A repository with no remote and no commits has nothing stable to key on.
	return nil, herderrors.NewGitError("repository has no remote and no commits", herderrors.ErrNoFingerprint).
		WithRepository(repoDir)
}

// NormalizeRemoteURL reduces a git remote URL to a canonical host/path form:
// protocol and credentials stripped, SSH colon syntax converted to a path,
// numeric ports dropped, trailing slashes and the .git suffix removed, and
// the result lower-cased.
//
//	git@github.com:Acme/Widgets.git     -> github.com/acme/widgets
//	https://github.com/Acme/Widgets/    -> github.com/acme/widgets
//	ssh://git@github.com:22/Acme/Widgets -> github.com/acme/widgets
func NormalizeRemoteURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	// Credentials precede the host, never the path
	if at := strings.IndexByte(s, '@'); at >= 0 {
		if slash := strings.IndexByte(s, '/'); slash == -1 || at < slash {
			s = s[at+1:]
		}
	}

	// A colon before the first slash is either scp-style path syntax or a port
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		if slash := strings.IndexByte(s, '/'); slash == -1 || colon < slash {
			rest := s[colon+1:]
			if end := strings.IndexByte(rest, '/'); end >= 0 && isDigits(rest[:end]) {
				s = s[:colon] + rest[end:]
			} else {
				s = s[:colon] + "/" + rest
			}
		}
	}

	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimRight(s, "/")

	return strings.ToLower(s)
}

// hashOf returns the first HashLength hex characters of the SHA-256 digest
func hashOf(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:HashLength]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// remoteOriginURL returns the URL of the origin remote, if any
func remoteOriginURL(repoDir string) (string, error) {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = repoDir

	output, err := cmd.Output()
	if err != nil {
		return "", herderrors.NewGitError("failed to read origin remote", herderrors.ErrNoRemote).
			WithRepository(repoDir)
	}

	return strings.TrimSpace(string(output)), nil
}

// rootCommit returns the repository's first commit hash. Repositories with
// multiple root commits (grafts, merged histories) use the first one listed.
func rootCommit(repoDir string) (string, error) {
	cmd := exec.Command("git", "rev-list", "--max-parents=0", "HEAD")
	cmd.Dir = repoDir

	output, err := cmd.Output()
	if err != nil {
		return "", herderrors.NewGitError("failed to resolve root commit", err).
			WithRepository(repoDir)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", herderrors.NewGitError("repository has no commits", herderrors.ErrNoFingerprint).
			WithRepository(repoDir)
	}

	return strings.ToLower(strings.TrimSpace(lines[0])), nil
}

// isGitRepository reports whether repoDir is inside a git work tree
func isGitRepository(repoDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = repoDir
	return cmd.Run() == nil
}

// RepoRoot walks up from startDir and returns the repository root, the first
// directory containing .git. Worktrees keep .git as a file, so both forms
// count. Every clone anchors its coordination directory here so all commands
// in the same checkout agree on where the fleet state lives.
func RepoRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", herderrors.NewGitError("cannot resolve directory", err).
			WithRepository(startDir)
	}

	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", herderrors.NewGitError("no repository found above directory", herderrors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}
