package logAction

// LoggerAction describes what a detail log line is about.
type LoggerAction struct {
	Action            string
	ActionDescription string
	SubAction         string
}

type DBOperation string

const (
	DB_CREATE DBOperation = "create"
	DB_READ   DBOperation = "read"
	DB_UPDATE DBOperation = "update"
	DB_DELETE DBOperation = "delete"
)

func INBOUND(desc string) LoggerAction {
	return LoggerAction{Action: "[INBOUND]", ActionDescription: desc}
}

func OUTBOUND(desc string) LoggerAction {
	return LoggerAction{Action: "[OUTBOUND]", ActionDescription: desc}
}

func EXCEPTION(desc string) LoggerAction {
	return LoggerAction{Action: "[EXCEPTION]", ActionDescription: desc}
}

func BUSINESS(desc string) LoggerAction {
	return LoggerAction{Action: "[BUSINESS]", ActionDescription: desc}
}

func DB_REQUEST(op DBOperation, desc string) LoggerAction {
	return LoggerAction{Action: "[DB_REQUEST]", ActionDescription: desc, SubAction: string(op)}
}

func DB_RESPONSE(op DBOperation, desc string) LoggerAction {
	return LoggerAction{Action: "[DB_RESPONSE]", ActionDescription: desc, SubAction: string(op)}
}

func HTTP_REQUEST(desc string) LoggerAction {
	return LoggerAction{Action: "[HTTP_REQUEST]", ActionDescription: desc}
}

func HTTP_RESPONSE(desc string) LoggerAction {
	return LoggerAction{Action: "[HTTP_RESPONSE]", ActionDescription: desc}
}
