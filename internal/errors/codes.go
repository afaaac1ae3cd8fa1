package errors

// Error codes for the legalizer
// These codes are used in diagnostics and in the yaml expectation suite
// to identify failures consistently across the toolchain.
//
// Error code ranges:
// E1001-E1099: Legalization errors, reported per function
// E1100-E1199: Internal invariant violations, fatal for the whole run
// E1200-E1299: Textual IR reader errors

const (
	// E1001: Signature has a type the target ABI cannot place
	ErrorMalformedSignature = "E1001"

	// E1002: Global value dereference chain refers back to itself
	ErrorCyclicGlobalValue = "E1002"

	// E1003: Heap style the legalizer does not handle
	ErrorUnsupportedHeapStyle = "E1003"

	// E1004: Instruction or heap names a global value, heap or parameter that does not exist
	ErrorUnknownEntity = "E1004"

	// E1005: Address-producing instruction or heap index has the wrong type for the target
	ErrorAddressType = "E1005"

	// E1100: Instruction graph invariant broken
	ErrorInvariantViolation = "E1100"

	// E1200: Textual IR could not be parsed
	ErrorParse = "E1200"

	// E1201: Textual IR parsed but names an undefined value or block
	ErrorUndefinedReference = "E1201"
)

// GetErrorDescription returns a human-readable description of the error code
func GetErrorDescription(code string) string {
	switch code {
	case ErrorMalformedSignature:
		return "Signature contains a type the target ABI cannot assign a location to"
	case ErrorCyclicGlobalValue:
		return "Global value is defined in terms of itself"
	case ErrorUnsupportedHeapStyle:
		return "Heap style is not supported by the legalizer"
	case ErrorUnknownEntity:
		return "Reference to an undeclared global value, heap or parameter"
	case ErrorAddressType:
		return "Address or heap index type does not fit the target pointer width"
	case ErrorInvariantViolation:
		return "Internal invariant of the instruction graph was violated"
	case ErrorParse:
		return "Textual IR could not be parsed"
	case ErrorUndefinedReference:
		return "Textual IR uses a value or block that is never defined"
	default:
		return "Unknown error code"
	}
}

// GetErrorCategory returns the category of the error based on its code
func GetErrorCategory(code string) string {
	switch {
	case code >= "E1001" && code < "E1100":
		return "Legalization"
	case code >= "E1100" && code < "E1200":
		return "Internal"
	case code >= "E1200" && code < "E1300":
		return "Reader"
	default:
		return "Unknown"
	}
}

// IsFatal reports whether errors with this code abort the whole run
func IsFatal(code string) bool {
	return GetErrorCategory(code) == "Internal"
}
