package strategy_test

import (
	"math/rand/v2"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/llm-balancer/internal/strategy"
	"github.com/angeloszaimis/llm-balancer/internal/worker"
)

var _ = Describe("Weighted", func() {
	var (
		strat   strategy.Strategy
		workers []*worker.Worker
	)

	BeforeEach(func() {
		strat = strategy.NewWeightedStrategy(rand.New(rand.NewPCG(1, 2)))
		workers = newPool(3, 2)
	})

	It("should never select an unavailable worker", func() {
		workers[0].SetHealth(false, time.Now())
		workers[1].IncrementInFlight()
		workers[1].IncrementInFlight()

		for range 1000 {
			Expect(strat.Select(workers)).To(BeIdenticalTo(workers[2]))
		}
	})

	It("should return nil for an empty pool", func() {
		Expect(strat.Select(nil)).To(BeNil())
	})

	It("should favour workers with a higher success rate", func() {
		good, bad := workers[0], workers[1]
		for range 10 {
			bad.RecordFailure()
		}

		counts := map[*worker.Worker]int{}
		pair := []*worker.Worker{good, bad}
		for range 10000 {
			counts[strat.Select(pair)]++
		}

		// weights 0.98 vs 0.58
		Expect(counts[good] + counts[bad]).To(Equal(10000))
		Expect(float64(counts[good]) / 10000).To(BeNumerically("~", 0.98/1.56, 0.03))
		Expect(counts[good]).To(BeNumerically(">", counts[bad]))
	})

	It("should reach every available worker", func() {
		seen := map[string]bool{}
		for range 1000 {
			seen[strat.Select(workers).ID()] = true
		}
		Expect(seen).To(HaveLen(3))
	})
})

var _ = Describe("Random", func() {
	It("should only pick available workers", func() {
		strat := strategy.NewRandomStrategy(rand.New(rand.NewPCG(7, 7)))
		workers := newPool(4, 1)
		workers[1].SetHealth(false, time.Now())
		workers[3].IncrementInFlight()

		for range 500 {
			w := strat.Select(workers)
			Expect(w.Available()).To(BeTrue())
		}
	})
})

var _ = Describe("New", func() {
	DescribeTable("known types",
		func(t strategy.Type) {
			s, err := strategy.New(t, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(s).NotTo(BeNil())
		},
		Entry("weighted", strategy.TypeWeighted),
		Entry("default", strategy.Type("")),
		Entry("random", strategy.TypeRandom),
		Entry("least-load", strategy.TypeLeastLoad),
	)

	It("should reject unknown types", func() {
		_, err := strategy.New("round-robin", nil)
		Expect(err).To(MatchError(strategy.ErrUnknownStrategy))
	})
})
