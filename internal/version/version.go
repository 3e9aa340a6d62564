package version

import (
	"encoding/json"
	"log"
	"os"
)

// Version is stamped at build time with
// -ldflags "-X github.com/JustinTDCT/DoubanLink/internal/version.Version=1.2.3".
var Version string

type Info struct {
	Version string `json:"version"`
}

// Load prefers the stamped version, then version.json in the working
// directory, then 0.0.0.
func Load() Info {
	if Version != "" {
		return Info{Version: Version}
	}
	data, err := os.ReadFile("version.json")
	if err != nil {
		return Info{Version: "0.0.0"}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.Version == "" {
		log.Printf("warning: could not parse version.json: %v", err)
		return Info{Version: "0.0.0"}
	}
	return info
}
