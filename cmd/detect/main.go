package detect

import (
	"fmt"
	"io"
	"os"

	"github.com/objtk/objview"
	"github.com/objtk/objview/cmd"
)

func Main(args []string) {
	c := cmd.NewObjCmd()
	c.Show = func(w io.Writer, path string, obj *objview.Any) error {
		_, err := fmt.Fprintf(w, "%s: %s\n", path, obj.Format)
		return err
	}
	os.Exit(c.Run(args))
}

func init() { cmd.Register("detect", "identify a file's container format", Main) }
