package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// Current is the version of the binary, set at build time via ldflags.
	Current = "dev"

	// Repo is the GitHub repository releases are published to.
	Repo = "alextreichler/threadViewer"

	apiBase = "https://api.github.com"
)

type release struct {
	TagName string `json:"tag_name"`
}

// CheckUpdate asks GitHub for the latest release and returns its tag when it
// is newer than Current. Development builds never report an update.
func CheckUpdate(ctx context.Context) (string, error) {
	if Current == "dev" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s/releases/latest", apiBase, Repo), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query releases: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("failed to decode release: %w", err)
	}

	if isNewer(strings.TrimPrefix(rel.TagName, "v"), strings.TrimPrefix(Current, "v")) {
		return rel.TagName, nil
	}
	return "", nil
}

// isNewer compares dotted versions numerically, falling back to string
// comparison for non-numeric parts. Pre-release suffixes are not understood.
func isNewer(latest, current string) bool {
	if latest == current {
		return false
	}

	lParts := strings.Split(latest, ".")
	cParts := strings.Split(current, ".")
	for i := 0; i < len(lParts) && i < len(cParts); i++ {
		lNum, errL := strconv.Atoi(lParts[i])
		cNum, errC := strconv.Atoi(cParts[i])
		if errL == nil && errC == nil {
			if lNum != cNum {
				return lNum > cNum
			}
			continue
		}
		if lParts[i] != cParts[i] {
			return lParts[i] > cParts[i]
		}
	}
	return len(lParts) > len(cParts)
}

func UpdateCommand() string {
	return fmt.Sprintf("go install github.com/%s/cmd/webapp@latest", Repo)
}
