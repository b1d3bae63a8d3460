package deface

import "strings"

// DefaultOutputPath names the defaced copy of input by replacing the first
// ".nii" with "_defaced.nii". Inputs without ".nii" map onto themselves, which
// the existence check then rejects.
func DefaultOutputPath(input string) string {
	return strings.Replace(input, ".nii", "_defaced.nii", 1)
}

// niftiExt returns the extension FLIRT should see for a staged copy of path.
func niftiExt(path string) string {
	if strings.HasSuffix(path, ".gz") {
		return ".nii.gz"
	}
	return ".nii"
}
