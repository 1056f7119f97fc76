// Package errors provides structured error handling for codesearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and file I/O errors
//   - 3XX: Wire protocol errors
//   - 4XX: Query errors
//   - 5XX: Search backend errors
//   - 6XX: Language server errors
//   - 9XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates index persistence and file I/O errors.
	CategoryIO Category = "IO"
	// CategoryProtocol indicates malformed or unknown wire commands.
	CategoryProtocol Category = "PROTOCOL"
	// CategoryQuery indicates query parse and execution errors.
	CategoryQuery Category = "QUERY"
	// CategorySearch indicates a failing search backend.
	CategorySearch Category = "SEARCH"
	// CategoryLSP indicates language server errors.
	CategoryLSP Category = "LSP"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Index and I/O errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeIndexIO        = "ERR_203_INDEX_IO"
	ErrCodeIndexEncode    = "ERR_204_INDEX_ENCODE"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeIndexLocked    = "ERR_206_INDEX_LOCKED"
	ErrCodeNoActiveIndex  = "ERR_207_NO_ACTIVE_INDEX"

	// Protocol errors (300-399)
	ErrCodeInvalidCommand = "ERR_301_INVALID_COMMAND"
	ErrCodeUnknownAction  = "ERR_302_UNKNOWN_ACTION"
	ErrCodeInvalidParams  = "ERR_303_INVALID_PARAMS"
	ErrCodeConnection     = "ERR_304_CONNECTION"

	// Query errors (400-499)
	ErrCodeQueryParse       = "ERR_401_QUERY_PARSE"
	ErrCodeQueryEmpty       = "ERR_402_QUERY_EMPTY"
	ErrCodeUnsupportedField = "ERR_403_UNSUPPORTED_FIELD"
	ErrCodeQueryExecution   = "ERR_404_QUERY_EXECUTION"
	ErrCodeInvalidPath      = "ERR_405_INVALID_PATH"

	// Search backend errors (500-599)
	ErrCodeTextSearch     = "ERR_501_TEXT_SEARCH"
	ErrCodeSyntaxSearch   = "ERR_502_SYNTAX_SEARCH"
	ErrCodeSymbolSearch   = "ERR_503_SYMBOL_SEARCH"
	ErrCodeFuzzySearch    = "ERR_504_FUZZY_SEARCH"
	ErrCodeSemanticSearch = "ERR_505_SEMANTIC_SEARCH"
	ErrCodePathSearch     = "ERR_506_PATH_SEARCH"

	// Language server errors (600-699)
	ErrCodeClientNotAvailable = "ERR_601_CLIENT_NOT_AVAILABLE"
	ErrCodeRequestFailed      = "ERR_602_REQUEST_FAILED"
	ErrCodeLSPNotAvailable    = "ERR_603_LSP_NOT_AVAILABLE"

	// Internal errors (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_401_QUERY_PARSE" -> '4'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProtocol
	case '4':
		return CategoryQuery
	case '5':
		return CategorySearch
	case '6':
		return CategoryLSP
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeLSPNotAvailable, ErrCodeClientNotAvailable:
		return SeverityWarning
	}
	return SeverityError
}
