// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"svgaplayer/commandline"
)

func main() {
	if err := commandline.Execute(); err != nil {
		os.Exit(1)
	}
}
