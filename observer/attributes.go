package observer

import "go.opentelemetry.io/otel/attribute"

// Shared attribute keys, kept in one place so traces and metrics agree.
var (
	AttrModel        = attribute.Key("llm.model")
	AttrProvider     = attribute.Key("llm.provider")
	AttrLabel        = attribute.Key("llm.label")
	AttrTokenType    = attribute.Key("llm.token.type")
	AttrToolName     = attribute.Key("tool.name")
	AttrToolStatus   = attribute.Key("tool.status")
	AttrConversation = attribute.Key("conversation.id")
	AttrRepository   = attribute.Key("repository.id")
	AttrStatus       = attribute.Key("status")
)
