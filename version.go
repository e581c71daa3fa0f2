package main

import "fmt"

var (
	version   string = "0.1.0"
	gitSHA1   string = "unknown"
	gitDirty  string = "unknown"
	buildID   string = "unknown"
	buildDate string = "unknown"
)

// ServerName is the value of the HTTP Server header.
func ServerName() string {
	return "go-reactor/" + version
}

func VersionString() string {
	v := fmt.Sprintf("go-reactor v=%s sha=%s", version, gitSHA1)
	if gitDirty != "unknown" && gitDirty != "0" {
		v += "-dirty"
	}
	return fmt.Sprintf("%s build=%s date=%s", v, buildID, buildDate)
}
