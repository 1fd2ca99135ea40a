// Package server is the HTTP front end of the relay.
//
// Operators sign in through a form and receive a signed session cookie.
// Devices poll for their next command and push status reports; they are
// trusted at the network edge unless a shared device key is configured.
//
// # Endpoints
//
//   - GET /login, POST /login - Sign-in page and credential check
//   - GET /logout - Clear the session cookie
//   - GET / - Operator console (session, redirects to /login)
//   - GET /devices - Status of every device (session, 401)
//   - POST /action/{device}/{cmd} - Queue a command (session, 401)
//   - GET /ws/status - Websocket feed of status reports (session, 401)
//   - GET /esp/get_cmd/{device} - Take the pending command (device key)
//   - POST /esp/status - Report device state (device key)
//   - GET /status/{device} - Latest state and liveness of one device
//   - GET /healthz - Liveness probe
//   - GET /static/... - Files from the configured static directory
//
// # Authentication
//
// Session failures are mapped once, in requireSession: browser routes
// redirect to /login with 303, API routes answer 401 with a JSON body.
// Login attempts are rate limited per client IP.
package server
