//go:build !linux

package trace

import "os"

func adviseSequential(*os.File) {}
