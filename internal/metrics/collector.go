package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketplace_feed"

// Collector - метрики выгрузки товаров на маркетплейс.
// Все методы безопасны для nil-получателя, поэтому сервисы в тестах
// можно создавать без метрик.
type Collector struct {
	batchesBuilt       prometheus.Counter
	productsRejected   *prometheus.CounterVec
	identifiersClaimed prometheus.Counter
	payloadBytes       prometheus.Histogram
	chunkItems         prometheus.Histogram
	submissions        *prometheus.CounterVec
	polls              *prometheus.CounterVec
	itemOutcomes       *prometheus.CounterVec
	consistencyRepairs prometheus.Counter
	specFetches        *prometheus.CounterVec
	batchesPending     prometheus.Gauge
	commandsProcessed  *prometheus.CounterVec
	commandDuration    prometheus.Histogram
}

// NewCollector регистрирует метрики в переданном регистре.
// В тестах передается prometheus.NewRegistry(), в сервисах - DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		batchesBuilt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_built_total",
			Help:      "Количество собранных пакетов (мастер-пакетов)",
		}),
		productsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_rejected_total",
			Help:      "Товары, отклоненные при сборке пакета",
		}, []string{"reason"}),
		identifiersClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identifiers_claimed_total",
			Help:      "Идентификаторы, закрепленные за товарами",
		}),
		payloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_payload_bytes",
			Help:      "Размер отправляемого JSON в байтах",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		chunkItems: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_chunk_items",
			Help:      "Количество товаров в одной отправке",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Вызовы отправки по результату",
		}, []string{"result"}),
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Циклы опроса статуса по результату",
		}, []string{"result"}),
		itemOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_outcomes_total",
			Help:      "Применённые вердикты по товарам",
		}, []string{"status"}),
		consistencyRepairs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_repairs_total",
			Help:      "Пересборки статусов после расхождения счетчиков",
		}),
		specFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spec_fetches_total",
			Help:      "Обращения к источнику спецификаций по результату",
		}, []string{"result"}),
		batchesPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_pending",
			Help:      "Пакеты, ожидающие результата маркетплейса",
		}),
		commandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_commands_processed_total",
			Help:      "Команды воркера по результату обработки",
		}, []string{"status"}),
		commandDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_command_duration_seconds",
			Help:      "Длительность обработки команд воркером",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (c *Collector) BatchBuilt() {
	if c == nil {
		return
	}
	c.batchesBuilt.Inc()
}

func (c *Collector) ProductRejected(reason string) {
	if c == nil {
		return
	}
	c.productsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) IdentifierClaimed() {
	if c == nil {
		return
	}
	c.identifiersClaimed.Inc()
}

// PayloadObserved фиксирует размер и количество товаров одной отправки
func (c *Collector) PayloadObserved(bytes, items int) {
	if c == nil {
		return
	}
	c.payloadBytes.Observe(float64(bytes))
	c.chunkItems.Observe(float64(items))
}

func (c *Collector) Submission(result string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(result).Inc()
}

func (c *Collector) Poll(result string) {
	if c == nil {
		return
	}
	c.polls.WithLabelValues(result).Inc()
}

func (c *Collector) ItemOutcome(status string) {
	if c == nil {
		return
	}
	c.itemOutcomes.WithLabelValues(status).Inc()
}

func (c *Collector) ConsistencyRepair() {
	if c == nil {
		return
	}
	c.consistencyRepairs.Inc()
}

func (c *Collector) SpecFetch(result string) {
	if c == nil {
		return
	}
	c.specFetches.WithLabelValues(result).Inc()
}

func (c *Collector) SetPending(n int) {
	if c == nil {
		return
	}
	c.batchesPending.Set(float64(n))
}

// CommandProcessed учитывает обработанную команду воркера
func (c *Collector) CommandProcessed(status string, seconds float64) {
	if c == nil {
		return
	}
	c.commandsProcessed.WithLabelValues(status).Inc()
	c.commandDuration.Observe(seconds)
}

// Handler возвращает HTTP-обработчик /metrics для указанного источника
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
