// Package agentclient is a client SDK for driving a headless coding agent
// over its JSON-RPC wire protocol. It speaks length-prefixed JSON frames over
// the agent CLI's stdio or a TCP socket, spawning and supervising the CLI
// process when asked to.
//
// Characteristics
//
//	Connection model : 1 client <-> 1 agent process (or remote server)
//	Transport        : Content-Length framed JSON-RPC 2.0, fully bidirectional
//	Sessions         : Client-tracked registry; events routed per session
//	Callbacks        : Tools, permission prompts, user input, lifecycle hooks
//
// A typical flow: construct a Client, Start it (which performs a protocol
// version handshake), create a Session, send prompts, and react to streamed
// session events or serve the agent's tool calls.
//
// Example:
//
//	c, err := agentclient.New(agentclient.WithLogLevel("info"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer c.Stop(context.Background())
//
//	sess, err := c.CreateSession(ctx, &agentclient.SessionConfig{Model: "default"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	ev, err := sess.SendAndWait(ctx, "hello")
package agentclient
