package main

import "github.com/aussiebroadwan/authkit/internal/authctl"

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	if version != "dev" {
		authctl.BuildVersion = version
	}
	execute()
}
