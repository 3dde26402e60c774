package exchange

import "testing"

func TestHubScopedDelivery(t *testing.T) {
	hub := NewHub()

	var btc, eth int
	hub.Subscribe(KindTickerChanged, "BTCUSDT", func(any) { btc++ })
	hub.Subscribe(KindTickerChanged, "ETHUSDT", func(any) { eth++ })

	hub.Publish(KindTickerChanged, "BTCUSDT", TickerUpdate{Symbol: "BTCUSDT", LastPrice: 50000})
	hub.Publish(KindTickerChanged, "BTCUSDT", TickerUpdate{Symbol: "BTCUSDT", LastPrice: 50001})
	hub.Publish(KindOrderFilled, "BTCUSDT", OrderFilled{Symbol: "BTCUSDT"})

	if btc != 2 {
		t.Fatalf("BTC ticker handler ran %d times, expected 2", btc)
	}
	if eth != 0 {
		t.Fatalf("ETH handler ran %d times, expected 0", eth)
	}
}

func TestHubUnsubscribeDuringDispatch(t *testing.T) {
	hub := NewHub()

	var first, second int
	var unsubFirst func()
	unsubFirst = hub.Subscribe(KindOrderFilled, "BTCUSDT", func(any) {
		first++
		unsubFirst() // handlers may unsubscribe while being delivered to
	})
	hub.Subscribe(KindOrderFilled, "BTCUSDT", func(any) { second++ })

	hub.Publish(KindOrderFilled, "BTCUSDT", OrderFilled{})
	hub.Publish(KindOrderFilled, "BTCUSDT", OrderFilled{})

	if first != 1 {
		t.Fatalf("unsubscribed handler ran %d times, expected 1", first)
	}
	if second != 2 {
		t.Fatalf("remaining handler ran %d times, expected 2", second)
	}
}

func TestHubPanickingHandlerDoesNotStopDispatch(t *testing.T) {
	hub := NewHub()

	var after int
	hub.Subscribe(KindOrderFilled, "BTCUSDT", func(any) { panic("boom") })
	hub.Subscribe(KindOrderFilled, "BTCUSDT", func(any) { after++ })

	hub.Publish(KindOrderFilled, "BTCUSDT", OrderFilled{Symbol: "BTCUSDT"})

	if after != 1 {
		t.Fatalf("handler after the panicking one ran %d times, expected 1", after)
	}
}

func TestHubUnsubscribeTwice(t *testing.T) {
	hub := NewHub()
	unsub := hub.Subscribe(KindPositionClosed, "BTCUSDT", func(any) {})
	unsub()
	unsub() // must not panic or remove other handlers

	ran := false
	hub.Subscribe(KindPositionClosed, "BTCUSDT", func(any) { ran = true })
	hub.Publish(KindPositionClosed, "BTCUSDT", PositionClosed{Reason: ClosedSold})
	if !ran {
		t.Fatal("handler registered after double-unsubscribe did not run")
	}
}
