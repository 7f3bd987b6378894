package constants

// Redis Key 前缀和格式常量
// 统一命名规范: screener:{module}:{entity}:{unique_id}
const (
	// AppPrefix 所有Redis Key的统一应用前缀
	AppPrefix = "screener"

	// DocModulePrefix 文档模块
	DocModulePrefix = "doc"
	// QueryModulePrefix 查询模块
	QueryModulePrefix = "query"

	// KeyRawFileMD5Set 原始文件MD5去重集合 (SET)
	// 格式: screener:doc:dedup_set
	KeyRawFileMD5Set = AppPrefix + ":" + DocModulePrefix + ":dedup_set"

	// KeyQueryVector 岗位描述文本的查询向量缓存 (STRING, JSON)
	// 格式: screener:query:vector:{jdMD5}
	KeyQueryVector = AppPrefix + ":" + QueryModulePrefix + ":vector:%s"

	// KeyReportCache 分析报告缓存 (STRING, JSON)
	// 格式: screener:query:report:{jdMD5}:{topK}
	KeyReportCache = AppPrefix + ":" + QueryModulePrefix + ":report:%s:%d"
)
