/*
Package worker multiplexes many concurrent callers onto a single long-running worker process. Requests are
written to the worker's stdin and responses are read from its stdout, one JSON frame per line.

There are two messages in this protocol: "request" frames are sent client->worker, and "response" frames are sent
worker->client. The schema for these messages is described in types.go.

The protocol proceeds as follows:

1. The client starts the worker through the host shell, with stdin and stdout as pipes.
2. For each call, the client allocates the next sequence number (starting at 1), registers a delivery slot for it,
   and only then writes a request frame {"seq":N,"op":"...","data":"..."} followed by a newline.
3. The worker answers each request, in any order, with a response frame {"seq":N,"data":"..."}.
4. A single reader goroutine decodes response frames and hands each one to the slot registered for its sequence number.

The operation name is not echoed back, so the sequence number is the only correlation between a response and its request.

A malformed response line is logged and skipped. When the worker's stdout closes, every pending call fails with
ErrChannelClosed. Calls can be bounded with WithTimeout, in which case a call that gets no answer fails with ErrTimeout
and the worker keeps running.

The worker is scoped to the Client: closing the Client kills the worker's whole process group.

Server implements the worker side of the protocol, for workers written in Go.
*/
package worker
