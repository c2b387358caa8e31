/*
Package client is the HTTP client the corral CLI uses to talk to a manager.

	c := client.NewClient("127.0.0.1:8080")
	inst, err := c.CreateInstance(2, "nova")
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == "NoValidHost" {
			// every live host is at capacity
		}
	}

Non-2xx responses are returned as *APIError carrying the scheduling error
kind reported by the server.
*/
package client
