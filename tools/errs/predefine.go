package errs

const (
	ServerInternalError = 500
	ArgsError           = 1001
	ConfigError         = 1002

	// hub side
	ConnectionError = 2001
	HubRequestError = 2002
	PaginationError = 2003

	// pipeline side
	DecodeError  = 3001
	HandlerError = 3002
	QueueError   = 3003
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrConfig         = NewCodeError(ConfigError, "ConfigError")

	ErrConnection = NewCodeError(ConnectionError, "ConnectionError")
	ErrHubRequest = NewCodeError(HubRequestError, "HubRequestError")
	ErrPagination = NewCodeError(PaginationError, "PaginationError")

	ErrDecode  = NewCodeError(DecodeError, "DecodeError")
	ErrHandler = NewCodeError(HandlerError, "HandlerError")
	ErrQueue   = NewCodeError(QueueError, "QueueError")
)

func init() {
	// a pagination failure is a hub request failure
	_ = DefaultCodeRelation.Add(HubRequestError, PaginationError)
}
