// Copyright (c) OpenMMLab. All rights reserved.

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Variables injected at compile time
var (
	Version   = "dev"     // release version v1.0.0
	Commit    = ""        // Git commit hash
	BuildTime = "unset"   // Build time
	BuildTag  = "beta"    // Build tag dev alpha beta rc stable hotfix
	UserAgent = "dogtail" // prefix of the User-Agent sent to the search API
)

// Version information
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	BuildTag  string `json:"build_tag"`
	GoVersion string `json:"go_version"`
}

// GetStructuredVersion combines injected variables with VCS build info
func GetStructuredVersion() VersionInfo {
	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		BuildTag:  BuildTag,
		GoVersion: runtime.Version(),
	}
	if info.Commit == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			info.Commit = revision(bi)
		}
	}
	return info
}

// revision reads vcs.revision, marking locally modified builds
func revision(info *debug.BuildInfo) string {
	var rev, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			rev = setting.Value
		case "vcs.modified":
			modified = setting.Value
		}
	}
	if rev != "" && modified == "true" {
		rev += "+localmod"
	}
	return rev
}

// GetVersionInfo returns a one-line summary
func GetVersionInfo() string {
	info := GetStructuredVersion()
	if info.Commit != "" {
		return fmt.Sprintf("%s-%s (commit: %s, built: %s)", info.Version, info.BuildTag, info.Commit, info.BuildTime)
	}
	return fmt.Sprintf("%s-%s (built: %s)", info.Version, info.BuildTag, info.BuildTime)
}

// FormatVersionInfo renders the multi-line form printed by the version command
func FormatVersionInfo(info VersionInfo) string {
	var versionStr strings.Builder
	versionStr.WriteString(fmt.Sprintf("  - Version: %s\n", info.Version))
	if info.Commit != "" {
		versionStr.WriteString(fmt.Sprintf("  - Commit: %s\n", info.Commit))
	}
	versionStr.WriteString(fmt.Sprintf("  - Build Time: %s\n", info.BuildTime))
	versionStr.WriteString(fmt.Sprintf("  - Build Tag: %s\n", info.BuildTag))
	versionStr.WriteString(fmt.Sprintf("  - Go: %s\n", info.GoVersion))
	return versionStr.String()
}

// GetUserAgent is sent with every search API request
func GetUserAgent() string {
	return fmt.Sprintf("%s/%s", UserAgent, Version)
}
