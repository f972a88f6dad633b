package buildinfo

import (
	"encoding/json"
	"io"
	"runtime"
)

const Unknown = "unknown"

// overridden at link time through -ldflags "-X ..."
var (
	gitVersion  = Unknown
	gitRevision = Unknown
	date        = Unknown
)

type info struct {
	Name        string `json:"name"`
	GitVersion  string `json:"version"`
	GitRevision string `json:"revision"`
	Date        string `json:"build_date"`
	GoVersion   string `json:"go_version"`
	Platform    string `json:"platform"`
}

// Info describes the running binary. Served verbatim on /info.
var Info = info{
	Name:        "topometrics",
	GitVersion:  gitVersion,
	GitRevision: gitRevision,
	Date:        date,
	GoVersion:   runtime.Version(),
	Platform:    runtime.GOOS + "/" + runtime.GOARCH,
}

// JSON writes the build information to w.
func JSON(w io.Writer) error {
	return json.NewEncoder(w).Encode(Info)
}
