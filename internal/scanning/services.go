package scanning

// UnknownService is the label for ports with no well-known service.
const UnknownService = "Unknown"

// wellKnownServices maps ports to the service conventionally found on them.
var wellKnownServices = map[int]string{
	21:    "FTP",
	22:    "SSH",
	23:    "Telnet",
	25:    "SMTP",
	53:    "DNS",
	80:    "HTTP",
	110:   "POP3",
	143:   "IMAP",
	443:   "HTTPS",
	993:   "IMAPS",
	995:   "POP3S",
	3389:  "RDP",
	5432:  "PostgreSQL",
	3306:  "MySQL",
	6379:  "Redis",
	27017: "MongoDB",
	161:   "SNMP",
	389:   "LDAP",
	636:   "LDAPS",
	1433:  "MSSQL",
	5984:  "CouchDB",
	8080:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	9200:  "Elasticsearch",
	5601:  "Kibana",
	6666:  "IRC",
	6667:  "IRC",
	119:   "NNTP",
	2049:  "NFS",
	111:   "RPC",
	135:   "RPC",
	139:   "NetBIOS",
	445:   "SMB",
	1521:  "Oracle",
	1526:  "Oracle",
	2181:  "ZooKeeper",
	9092:  "Kafka",
	11211: "Memcached",
	2375:  "Docker",
	2376:  "Docker TLS",
	4369:  "Erlang",
	5672:  "RabbitMQ",
	15672: "RabbitMQ Management",
	9090:  "Prometheus",
	3000:  "Grafana",
	8086:  "InfluxDB",
	9000:  "SonarQube",
	8081:  "Nexus",
	50070: "Hadoop NameNode",
	9999:  "Hadoop Secondary NameNode",
	8088:  "Hadoop Resource Manager",
	19888: "Hadoop History Server",
	2888:  "Zookeeper",
	3888:  "Zookeeper",
	7077:  "Spark Master",
	4040:  "Spark UI",
	18080: "Spark History",
	8020:  "Hadoop HDFS",
	9083:  "Hive Metastore",
	10000: "Hive Server2",
	10002: "Hive WebHCat",
	50075: "Hadoop DataNode",
	8042:  "Hadoop NodeManager",
	8188:  "Hadoop Timeline Service",
	19890: "Hadoop MapReduce History",
	8032:  "Hadoop ResourceManager",
	8030:  "Hadoop ResourceManager Scheduler",
	8031:  "Hadoop ResourceManager Tracker",
	8033:  "Hadoop ResourceManager Admin",
	10020: "Hadoop MapReduce Job History",
	13562: "Hadoop Shuffle",
}

// LookupService returns the well-known service for port, if any.
func LookupService(port int) (string, bool) {
	name, ok := wellKnownServices[port]
	return name, ok
}

// ServiceLabel returns the well-known service for port or UnknownService.
func ServiceLabel(port int) string {
	if name, ok := wellKnownServices[port]; ok {
		return name
	}
	return UnknownService
}
