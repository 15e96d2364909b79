// ebf builds embedded firmware: Linux kernels, HDL bitstreams, no-OS
// bare-metal images and composed boot images.
package main

import (
	"github.com/bitswalk/ebf/src/ebf/internal/cmd"
)

func main() {
	cmd.Execute()
}
