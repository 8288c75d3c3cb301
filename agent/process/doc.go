/*
Package process provides a client and server for a remote process runner which streams stdin (client->server) and stdout & stderr (server->client). It uses WebSockets for bidi messaging so only requires an HTTP server.

Processes are scoped to the WebSocket connection--that is, if the connection dies for any reason, the process is killed.

There are two messages in this protocol: "request" messages are sent client->server, and "response" messages are sent server->client. The schema for these messages is described in types.go.

The protocol proceeds as follows:

1. The client opens a WebSocket connection with the server
2. The client sends a request message containing the start request (command, env, wd, timeout, credentials, shell, and which streams to discard).
3. The client and server then exchange messages containing stdin, stdout, and stderr bytes while the process runs. Either side marks the end of a stream with its Done flag.
4. The server runs the process through subprocess.Subprocess, so when the process has exited AND its output has been fully sent, the server sends a response message with Exited=true and the result or error.
5. The client initiates closing of the WebSocket connection.

Because the server only reports the exit after stdout and stderr are drained, every Done flag for an output stream precedes the exit message.
*/
package process
