// Package conversation provides high-level conversation management services.
//
// # Overview
//
// The conversation package sits between the HTTP handlers and the
// provider/tool layers. It owns the branching message tree, runs
// assistant turns and persists every step as it happens.
//
// # Message Tree
//
// Messages form a forest: each message links to its parent, and
// editing a message or regenerating a response creates a sibling
// branch instead of mutating history. The active path of a
// conversation is obtained by flattening from a leaf to its root.
//
// # Service
//
// The Service coordinates conversation operations:
//
//	svc := conversation.New(store, completer, converter, tools, catalog, broadcaster, logger)
//
// Key operations:
//
//   - SendMessage(ctx, req): persist a user message and run the assistant turn
//   - Regenerate(ctx, conv, msg): produce a sibling assistant response
//   - HandleToolAuth(ctx, conv, msg, allow): resolve a pending tool authorization
//   - History(ctx, conv, leaf): flatten the active path root-first
//   - JumpToSibling(ctx, conv, sibling): switch branches
//   - DeleteMessage / DeleteConversation: cascade removal by tree traversal
//   - GenerateTitle(ctx, conv): summarize the opening exchange into a title
//
// # The Turn Loop
//
// A user message triggers up to ten provider round-trips. Each
// iteration flattens the history, converts it to the provider wire
// format, streams the response and persists the assistant message.
// When the model requests tool calls, they are dispatched to local
// tools or connected satellites and their results recorded as
// tool-result messages before the next iteration. Tools marked as
// requiring confirmation pause the turn with a tool-auth-request
// message until the user answers.
//
// # Event Broadcasting
//
// Streaming events fan out to conversation watchers:
//
//	svc.Broadcaster().Subscribe(ctx, conversationID) -> <-chan chat.Event
//
// so multiple clients can follow the same assistant turn live.
package conversation
