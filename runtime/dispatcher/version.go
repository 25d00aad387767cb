package dispatcher

// VersionHeader is the inbound header carrying the caller's A2A protocol
// version. Version only affects wire shape at the edge; internal state is
// version-agnostic.
const VersionHeader = "A2A-Version"

// negotiateVersion validates the A2A-Version header, returning a dispatcher
// ErrorObject for any value other than empty, "0.3", or "1.0".
func negotiateVersion(header string) *ErrorObject {
	switch header {
	case "", "0.3", "1.0":
		return nil
	default:
		return newError(CodeVersionNotSupported, "unsupported A2A-Version: "+header)
	}
}
