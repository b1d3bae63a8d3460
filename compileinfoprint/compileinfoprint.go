// compileinfoprint is imported for the side effect of printing the version
// banner and compileinfo to os.StdErr
package compileinfoprint

import "github.com/carbocation/deface/compileinfo"

func init() {
	compileinfo.PrintToStdErr()
}
