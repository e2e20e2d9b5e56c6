// Command sealfs mounts an encrypted directory tree over FUSE.
package main

import "github.com/sealfs/sealfs/cmd"

func main() {
	cmd.Execute()
}
