/*
Package resilience provides the circuit breaker guarding outbound backend calls.

The host relay forwards sandbox traffic to the data-collection backend through
a breaker so that a dead backend fails relayed calls fast (as error frames)
instead of stacking up pending calls in every embedded project.

# Usage

	breaker := resilience.New("relay-backend", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	err := breaker.Do(func() error {
		_, err := client.Do(request)
		return err
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
