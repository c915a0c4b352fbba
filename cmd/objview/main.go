package main

import (
	"github.com/objtk/objview/cmd"

	_ "github.com/objtk/objview/cmd/deps"
	_ "github.com/objtk/objview/cmd/detect"
	_ "github.com/objtk/objview/cmd/info"
	_ "github.com/objtk/objview/cmd/syms"
)

func main() { cmd.Main() }
