package version

// NSCoreSemVer is the semantic version of the node software.
const NSCoreSemVer = "0.1.0"

// ProtocolVersion is advertised in the discovery TXT record and bumped
// whenever the wire messages change incompatibly.
const ProtocolVersion = "1"

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built software's version.
	Version = NSCoreSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}
